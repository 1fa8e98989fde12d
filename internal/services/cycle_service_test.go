package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/extraction"
	"github.com/senyabanana/tender-negotiation/internal/mailbox"
	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/router/config"

	"github.com/rs/zerolog"
)

func newTestCycle(t *testing.T, f *inboundFixture) *CycleService {
	t.Helper()
	completer := &stubCompleter{
		calls: map[string]int{},
		replies: map[string]string{
			"ALPHA-1": `{"items":[{"name":"Chair","quantity":10,"unit_price":25}],"delivery_days":10}`,
		},
	}
	extractor, err := extraction.NewExtractor(completer, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	offers := NewOfferService(f.store, extractor, extraction.NewScorer(config.DefaultScoring()), 5, nil, zerolog.Nop())
	return NewCycleService(f.svc, offers, time.Minute, zerolog.Nop())
}

func TestRunOnceIngestsAndReconciles(t *testing.T) {
	f := newInboundFixture(t)
	cycle := newTestCycle(t, f)
	f.mb.envelopes = []mailbox.Envelope{
		inboundEnvelope(1, "q1@vendor.io", "alpha@vendor.io", f.replyTo, "ALPHA-1: 10 chairs at 25 USD each"),
	}

	res, err := cycle.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Ingest.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", res.Ingest.Inserted)
	}
	if len(res.Reconcile) != 1 || res.Reconcile[0].Created != 1 {
		t.Fatalf("reconcile = %+v, want one created offer", res.Reconcile)
	}
	if got := f.store.request(f.request.ID).Status; got != models.EvaluatingRequest {
		t.Errorf("request status = %s, want evaluating", got)
	}

	res, err = cycle.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if res.Ingest.Inserted != 0 || len(res.Reconcile) != 0 {
		t.Errorf("second cycle = %+v, want nothing new", res)
	}
}

func TestRunOnceReconcilesWhenIngestFails(t *testing.T) {
	f := newInboundFixture(t)
	cycle := newTestCycle(t, f)
	_, err := f.store.InsertInbound(context.Background(), []models.Message{{
		RequestID:         f.request.ID,
		ParticipantID:     f.alpha.ID,
		ProviderMessageID: "q0@vendor.io",
		FromAddress:       f.alpha.Email,
		Body:              "ALPHA-1: 10 chairs at 25 USD each",
		OccurredAt:        time.Now(),
	}})
	if err != nil {
		t.Fatalf("InsertInbound: %v", err)
	}
	f.mb.envelopes = []mailbox.Envelope{
		inboundEnvelope(1, "q1@vendor.io", "alpha@vendor.io", f.replyTo, "one more thing"),
	}
	f.store.failOn("InsertInbound", errors.New("connection lost"))

	res, err := cycle.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce succeeded, want the ingest error")
	}
	if len(res.Reconcile) != 1 || res.Reconcile[0].Created != 1 {
		t.Errorf("reconcile = %+v, want stored replies reconciled anyway", res.Reconcile)
	}
}

func TestRunOnceWaitsForRunningCycle(t *testing.T) {
	f := newInboundFixture(t)
	cycle := newTestCycle(t, f)
	f.conn.entered = make(chan struct{}, 1)
	f.conn.release = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := cycle.RunOnce(context.Background())
		first <- err
	}()
	select {
	case <-f.conn.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never opened the mailbox")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cycle.RunOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("overlapping RunOnce = %v, want it to wait until the deadline", err)
	}
	if len(f.conn.entered) != 0 {
		t.Error("overlapping cycle opened the mailbox")
	}

	close(f.conn.release)
	if err := <-first; err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	if _, err := cycle.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce after the first finished: %v", err)
	}
}
