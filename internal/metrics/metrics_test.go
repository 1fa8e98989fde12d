package metrics

import (
	"errors"
	"testing"

	"github.com/senyabanana/tender-negotiation/internal/runner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRun(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRun("extraction", runner.Result{Completed: 11, Failed: 1, Total: 12})

	if got := testutil.ToFloat64(m.RunItems.WithLabelValues("extraction", "completed")); got != 11 {
		t.Fatalf("completed = %v, want 11", got)
	}
	if got := testutil.ToFloat64(m.RunItems.WithLabelValues("extraction", "failed")); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
}

func TestTaskOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Task("notify.award", nil)
	m.Task("notify.award", errors.New("smtp down"))
	m.Task("notify.award", nil)

	if got := testutil.ToFloat64(m.Tasks.WithLabelValues("notify.award", "ok")); got != 2 {
		t.Fatalf("ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Tasks.WithLabelValues("notify.award", "error")); got != 1 {
		t.Fatalf("error = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("x", runner.Result{Completed: 1, Total: 1})
	m.Polled(3)
	m.Correlated("resolved", 2)
	m.DeliveryAttempt("ok")
	m.Decision("awarded", 1)
	m.Task("rating.recompute", nil)
}
