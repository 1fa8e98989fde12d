package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingHandler struct {
	mu      sync.Mutex
	calls   map[string]int
	total   int
	failFor map[string]int // fail the first N attempts of a participant's task
	notify  chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		calls:   map[string]int{},
		failFor: map[string]int{},
		notify:  make(chan struct{}, 128),
	}
}

func (h *recordingHandler) Handle(_ context.Context, t Task) error {
	h.mu.Lock()
	h.calls[t.ParticipantID]++
	h.total++
	n := h.calls[t.ParticipantID]
	fail := n <= h.failFor[t.ParticipantID]
	h.mu.Unlock()

	h.notify <- struct{}{}
	if fail {
		return errors.New("smtp unavailable")
	}
	return nil
}

func (h *recordingHandler) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

func waitCalls(t *testing.T, h *recordingHandler, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-h.notify:
		case <-deadline:
			t.Fatalf("timed out after %d of %d handler calls", i, n)
		}
	}
}

func TestWorkerHandlesEveryTask(t *testing.T) {
	q := NewMemoryQueue(32, 3, zerolog.Nop())
	h := newRecordingHandler()

	var mu sync.Mutex
	observed := map[string]int{}
	w := NewWorker(q, h, 5, zerolog.Nop(), WithTaskObserver(func(kind string, err error) {
		mu.Lock()
		defer mu.Unlock()
		observed[kind]++
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	tasks := []Task{
		{Kind: KindAward, RequestID: "r1", OfferID: "o1", ParticipantID: "p1"},
		{Kind: KindReject, RequestID: "r1", OfferID: "o2", ParticipantID: "p2"},
		{Kind: KindReject, RequestID: "r1", OfferID: "o3", ParticipantID: "p3"},
		{Kind: KindRatingRecompute, ParticipantID: "p4"},
	}
	if err := q.Publish(ctx, tasks...); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitCalls(t, h, len(tasks))

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, task := range tasks {
		if got := h.count(task.ParticipantID); got != 1 {
			t.Errorf("participant %s handled %d times, want 1", task.ParticipantID, got)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if observed[string(KindReject)] != 2 || observed[string(KindAward)] != 1 || observed[string(KindRatingRecompute)] != 1 {
		t.Errorf("observed = %v", observed)
	}
}

func TestWorkerRedeliversFailedTask(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		failures    int
		wantCalls   int
	}{
		{name: "succeeds on second attempt", maxAttempts: 3, failures: 1, wantCalls: 2},
		{name: "dropped after max attempts", maxAttempts: 2, failures: 10, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewMemoryQueue(8, tt.maxAttempts, zerolog.Nop())
			h := newRecordingHandler()
			h.failFor["p1"] = tt.failures
			w := NewWorker(q, h, 2, zerolog.Nop())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = w.Run(ctx) }()

			if err := q.Publish(ctx, Task{Kind: KindAward, RequestID: "r1", OfferID: "o1", ParticipantID: "p1"}); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			waitCalls(t, h, tt.wantCalls)

			// no further redelivery beyond the expected attempts
			select {
			case <-h.notify:
				t.Fatalf("unexpected extra delivery")
			case <-time.After(50 * time.Millisecond):
			}
			if got := h.count("p1"); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestWorkerRecoversPanickingHandler(t *testing.T) {
	q := NewMemoryQueue(8, 1, zerolog.Nop())
	errs := make(chan error, 1)
	h := HandlerFunc(func(context.Context, Task) error { panic("boom") })
	w := NewWorker(q, h, 1, zerolog.Nop(), WithTaskObserver(func(_ string, err error) { errs <- err }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	if err := q.Publish(ctx, Task{Kind: KindRatingRecompute, ParticipantID: "p1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("panic was reported as success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was never observed")
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1, 1, zerolog.Nop())
	q.Close()
	q.Close()

	if err := q.Publish(context.Background(), Task{Kind: KindAward}); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if _, err := q.Consume(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Consume after Close = %v, want ErrClosed", err)
	}
}

func TestMemoryQueuePublishRespectsContext(t *testing.T) {
	q := NewMemoryQueue(1, 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, Task{Kind: KindAward, ParticipantID: "p1"}); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, Task{Kind: KindAward, ParticipantID: "p2"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish on full queue = %v, want context.Canceled", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestTaskKey(t *testing.T) {
	a := Task{Kind: KindReject, RequestID: "r1", OfferID: "o1", ParticipantID: "p1"}
	b := a
	b.CreatedAt = time.Now()
	if a.Key() != b.Key() {
		t.Errorf("key depends on CreatedAt: %q vs %q", a.Key(), b.Key())
	}
	c := a
	c.Kind = KindRatingRecompute
	if a.Key() == c.Key() {
		t.Errorf("different kinds share key %q", a.Key())
	}

	rejected := Task{Kind: KindRatingRecompute, RequestID: "r1", OfferID: "o1", ParticipantID: "p1"}
	awarded := Task{Kind: KindRatingRecompute, RequestID: "r2", OfferID: "o7", ParticipantID: "p1"}
	if rejected.Key() == awarded.Key() {
		t.Errorf("recomputes for two decisions share key %q", rejected.Key())
	}
}
