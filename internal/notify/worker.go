package notify

import (
	"context"
	"fmt"

	"github.com/senyabanana/tender-negotiation/internal/runner"

	"github.com/rs/zerolog"
)

// Handler performs the work a Task describes.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// Worker consumes a Queue and fans each batch of ready deliveries out through
// the runner.
type Worker struct {
	queue       Queue
	handler     Handler
	concurrency int
	batchSize   int
	logger      zerolog.Logger
	observe     func(kind string, err error)
	observeRun  runner.Observer
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithTaskObserver is called once per handled task.
func WithTaskObserver(fn func(kind string, err error)) WorkerOption {
	return func(w *Worker) { w.observe = fn }
}

// WithRunObserver is called after each batch drains.
func WithRunObserver(fn runner.Observer) WorkerOption {
	return func(w *Worker) { w.observeRun = fn }
}

// NewWorker returns a Worker handling up to concurrency tasks at once.
func NewWorker(queue Queue, handler Handler, concurrency int, logger zerolog.Logger, opts ...WorkerOption) *Worker {
	if concurrency < 1 {
		concurrency = runner.DefaultConcurrency
	}
	w := &Worker{
		queue:       queue,
		handler:     handler,
		concurrency: concurrency,
		batchSize:   concurrency * 4,
		logger:      logger.With().Str("component", "notify.worker").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done or the queue stops delivering.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info().Int("concurrency", w.concurrency).Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			batch := w.collect(d, deliveries)
			runner.Run(ctx, batch, w.concurrency, w.handle,
				runner.WithName("notify"),
				runner.WithLogger(w.logger),
				runner.WithObserver(w.observeRun))
		}
	}
}

// collect gathers first plus whatever else is already waiting, up to batchSize.
func (w *Worker) collect(first Delivery, deliveries <-chan Delivery) []Delivery {
	batch := []Delivery{first}
	for len(batch) < w.batchSize {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return batch
			}
			batch = append(batch, d)
		default:
			return batch
		}
	}
	return batch
}

func (w *Worker) handle(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: task panic: %v", r)
		}
		if w.observe != nil {
			w.observe(string(d.Task.Kind), err)
		}
		d.Done(err)
	}()

	w.logger.Debug().
		Str("kind", string(d.Task.Kind)).
		Str("request_id", d.Task.RequestID).
		Str("participant_id", d.Task.ParticipantID).
		Int("attempt", d.Attempt).
		Msg("handling task")
	return w.handler.Handle(ctx, d.Task)
}
