package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxAttempts bounds redeliveries of a failing task.
const DefaultMaxAttempts = 3

// MemoryQueue is an in-process Queue backed by a buffered channel. Failed
// deliveries are requeued until MaxAttempts is reached.
type MemoryQueue struct {
	ch          chan Delivery
	maxAttempts int
	logger      zerolog.Logger

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue returns a queue holding up to size pending tasks.
func NewMemoryQueue(size, maxAttempts int, logger zerolog.Logger) *MemoryQueue {
	if size < 1 {
		size = 256
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryQueue{
		ch:          make(chan Delivery, size),
		maxAttempts: maxAttempts,
		stop:        make(chan struct{}),
		logger:      logger.With().Str("component", "notify.memory").Logger(),
	}
}

// Publish enqueues tasks, blocking while the buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, tasks ...Task) error {
	for _, t := range tasks {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		select {
		case <-q.stop:
			return ErrClosed
		default:
		}
		select {
		case q.ch <- q.delivery(t, 1):
		case <-q.stop:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Consume returns the delivery channel. The queue supports a single consumer.
func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	select {
	case <-q.stop:
		return nil, ErrClosed
	default:
	}
	return q.ch, nil
}

// Len reports the number of tasks waiting for a consumer.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting new tasks. Pending deliveries stay readable.
func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() { close(q.stop) })
}

func (q *MemoryQueue) delivery(t Task, attempt int) Delivery {
	return Delivery{
		Task:    t,
		Attempt: attempt,
		done: func(err error) {
			if err == nil {
				return
			}
			if attempt >= q.maxAttempts {
				q.logger.Error().
					Err(err).
					Str("kind", string(t.Kind)).
					Str("participant_id", t.ParticipantID).
					Int("attempt", attempt).
					Msg("task dropped after max attempts")
				return
			}
			// requeue off the consumer goroutine so a full buffer cannot deadlock it
			go func() {
				select {
				case q.ch <- q.delivery(t, attempt+1):
				case <-q.stop:
				}
			}()
		},
	}
}
