// Package notify carries post-commit work (rating recomputes and decision
// notifications) from the award path to a dedicated worker. Tasks travel over
// NATS JetStream in production and over an in-process channel in tests and
// single-binary runs.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind names the work a Task asks for.
type Kind string

const (
	KindRatingRecompute Kind = "rating.recompute"
	KindAward           Kind = "notify.award"
	KindReject          Kind = "notify.reject"
)

// Task is one unit of post-commit work.
type Task struct {
	Kind          Kind      `json:"kind"`
	RequestID     string    `json:"requestId,omitempty"`
	OfferID       string    `json:"offerId,omitempty"`
	ParticipantID string    `json:"participantId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Key identifies a task for publish-side deduplication. Tasks raised by
// different decisions differ in OfferID, so their keys never collide.
func (t Task) Key() string {
	return string(t.Kind) + ":" + t.RequestID + ":" + t.OfferID + ":" + t.ParticipantID
}

// Delivery is a received Task awaiting acknowledgement.
type Delivery struct {
	Task    Task
	Attempt int
	done    func(err error)
}

// Done acknowledges the delivery. A non-nil err asks the queue to redeliver.
func (d Delivery) Done(err error) {
	if d.done != nil {
		d.done(err)
	}
}

// Publisher accepts tasks for asynchronous processing.
type Publisher interface {
	Publish(ctx context.Context, tasks ...Task) error
}

// Queue is a Publisher that can also hand tasks to a consumer.
type Queue interface {
	Publisher
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close()
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("notify: queue closed")
