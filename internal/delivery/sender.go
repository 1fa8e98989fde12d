// Package delivery sends outbound mail with classified retries.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Message is an outbound email.
type Message struct {
	FromName string
	From     string
	ReplyTo  string
	To       []string
	Subject  string
	Body     string
}

// Transport submits one message and returns its Message-Id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config controls retry timing.
type Config struct {
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxDelay       time.Duration
}

// Result reports the outcome of Send. Attempts counts transport calls.
type Result struct {
	Success   bool
	Attempts  int
	MessageID string
	Err       error
	Class     Class
}

// Sender wraps a Transport with retries.
type Sender struct {
	transport Transport
	cfg       Config
	logger    zerolog.Logger
	observe   func(class string)
}

// NewSender creates a Sender. observe, when set, is called once per attempt
// with the error class or "ok".
func NewSender(transport Transport, cfg Config, logger zerolog.Logger, observe func(class string)) (*Sender, error) {
	if transport == nil {
		return nil, errors.New("delivery: nil transport")
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 10 * cfg.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	return &Sender{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With().Str("component", "delivery").Logger(),
		observe:   observe,
	}, nil
}

// Send tries msg up to maxRetries times in total (at least once).
// Authentication failures stop immediately. Rate limiting waits
// RateLimitDelay times the attempt number. Any other failure waits
// BaseDelay doubled per attempt.
func (s *Sender) Send(ctx context.Context, msg Message, maxRetries int) Result {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var (
		res     Result
		lastErr error
	)
	operation := func() (string, error) {
		res.Attempts++
		id, err := s.transport.Send(ctx, msg)
		if err == nil {
			s.attempt("ok")
			return id, nil
		}

		lastErr = err
		res.Class = Classify(err)
		s.attempt(string(res.Class))
		s.logger.Warn().
			Err(err).
			Str("class", string(res.Class)).
			Int("attempt", res.Attempts).
			Int("max_attempts", maxRetries).
			Msg("delivery attempt failed")

		switch res.Class {
		case ClassAuth:
			return "", backoff.Permanent(err)
		case ClassRateLimit:
			return "", &backoff.RetryAfterError{Duration: s.cfg.RateLimitDelay * time.Duration(res.Attempts)}
		default:
			return "", err
		}
	}

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     s.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         s.cfg.MaxDelay,
	}
	id, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(maxRetries)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		res.Success = true
		res.MessageID = id
		res.Class = ClassNone
		return res
	}

	switch {
	case lastErr == nil:
		res.Err = err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Err = fmt.Errorf("%w (last error: %v)", err, lastErr)
	default:
		res.Err = lastErr
	}
	return res
}

func (s *Sender) attempt(class string) {
	if s.observe != nil {
		s.observe(class)
	}
}
