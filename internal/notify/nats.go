package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig describes the JetStream stream and durable consumer used for tasks.
type NATSConfig struct {
	URL        string
	Stream     string
	Durable    string
	MaxDeliver int
	MaxAge     time.Duration
	// AckWait bounds one delivery without a progress signal. While a task is
	// being handled the queue reports progress every AckWait/3.
	AckWait time.Duration
}

// DefaultAckWait covers a decision email sent with the default retry budget.
const DefaultAckWait = 5 * time.Minute

func (c NATSConfig) withDefaults() NATSConfig {
	if c.Durable == "" {
		c.Durable = "notify-worker"
	}
	if c.MaxDeliver < 1 {
		c.MaxDeliver = DefaultMaxAttempts
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 72 * time.Hour
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	return c
}

// NATSQueue is a Queue on a JetStream stream. Each Kind is published on its
// own subject under the stream prefix; one durable consumer reads all of them.
type NATSQueue struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	prefix     string
	durable    string
	maxDeliver int
	ackWait    time.Duration
	logger     zerolog.Logger
}

// NewNATSQueue connects to NATS and makes sure the task stream exists.
func NewNATSQueue(cfg NATSConfig, logger zerolog.Logger, opts ...nats.Option) (*NATSQueue, error) {
	if cfg.Stream == "" {
		return nil, errors.New("notify: stream name is required")
	}
	cfg = cfg.withDefaults()

	opts = append([]nats.Option{nats.Name("tender-negotiation")}, opts...)
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("notify: jetstream: %w", err)
	}

	q := &NATSQueue{
		conn:       nc,
		js:         js,
		prefix:     strings.ToLower(cfg.Stream),
		durable:    cfg.Durable,
		maxDeliver: cfg.MaxDeliver,
		ackWait:    cfg.AckWait,
		logger:     logger.With().Str("component", "notify.nats").Logger(),
	}
	if err := q.ensureStream(cfg.Stream, cfg.MaxAge); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *NATSQueue) ensureStream(name string, maxAge time.Duration) error {
	if _, err := q.js.StreamInfo(name); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("notify: stream info: %w", err)
	}
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{q.prefix + ".>"},
		MaxAge:   maxAge,
	})
	if err != nil {
		return fmt.Errorf("notify: add stream: %w", err)
	}
	q.logger.Info().Str("stream", name).Msg("task stream created")
	return nil
}

// Subject returns the subject a task of kind k is published on.
func (q *NATSQueue) Subject(k Kind) string {
	return q.prefix + "." + string(k)
}

// Publish encodes each task as JSON. The task key is used as the JetStream
// message id, so a repeated publish inside the dedupe window is dropped.
func (q *NATSQueue) Publish(ctx context.Context, tasks ...Task) error {
	if q == nil {
		return errors.New("notify: nil queue")
	}
	for _, t := range tasks {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if _, err := q.js.Publish(q.Subject(t.Kind), data, nats.Context(ctx), nats.MsgId(t.Key())); err != nil {
			return fmt.Errorf("notify: publish %s: %w", t.Kind, err)
		}
	}
	return nil
}

// Consume subscribes the durable consumer and forwards decoded tasks until
// ctx is done. A Done(err) with err != nil naks the message for redelivery.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := q.js.ChanSubscribe(
		q.prefix+".>",
		msgs,
		nats.Durable(q.durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(q.maxDeliver),
		nats.AckWait(q.ackWait),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: subscribe: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() { _ = sub.Drain() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				d, ok := q.decode(msg)
				if !ok {
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					d.Done(ctx.Err())
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *NATSQueue) decode(msg *nats.Msg) (Delivery, bool) {
	var t Task
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		q.logger.Error().Err(err).Str("subject", msg.Subject).Msg("undecodable task terminated")
		_ = msg.Term()
		return Delivery{}, false
	}
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}
	stop := keepAlive(q.ackWait/3, msg.InProgress)
	return Delivery{
		Task:    t,
		Attempt: attempt,
		done: func(err error) {
			stop()
			if err != nil {
				_ = msg.Nak()
				return
			}
			_ = msg.Ack()
		},
	}, true
}

// keepAlive calls touch every interval until the returned stop is called.
// stop is safe to call more than once.
func keepAlive(interval time.Duration, touch func(opts ...nats.AckOpt) error) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = touch()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Close drains the connection.
func (q *NATSQueue) Close() {
	if q == nil {
		return
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
	}
}
