// Package mailbox polls the inbound mailbox for respondent replies.
//
// The poller is stateless: callers pass the last persisted cursor in and get
// the next cursor back, and must store it only after the batch is durable.
// The cursor is the highest IMAP UID seen, so expunged messages never shift it.
package mailbox

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Envelope is a fetched message before body parsing.
type Envelope struct {
	UID        uint32
	MessageID  string
	Subject    string
	From       string
	To         []string
	ReceivedAt time.Time
	Raw        []byte
}

// Message is a parsed inbound message.
type Message struct {
	UID        uint32
	MessageID  string
	Subject    string
	From       string
	To         []string
	ReceivedAt time.Time
	Body       string
}

// Batch is the result of one poll cycle.
type Batch struct {
	Messages   []Message
	Fetched    int
	Skipped    int
	NextCursor uint32
}

// Status describes the selected mailbox.
type Status struct {
	Messages uint32
	// UIDNext is the UID the next message will get; 0 when the server did not say.
	UIDNext uint32
}

// Mailbox is an open, selected mailbox.
type Mailbox interface {
	Status(ctx context.Context) (Status, error)
	// Fetch returns messages with UIDs in [from, to]. to == 0 means no upper bound.
	Fetch(ctx context.Context, from, to uint32) ([]Envelope, error)
	Close() error
}

// Connector opens a Mailbox for one poll cycle.
type Connector interface {
	Open(ctx context.Context) (Mailbox, error)
}

// Poller fetches messages newer than a cursor.
type Poller struct {
	connector Connector
	logger    zerolog.Logger
	observe   func(fetched int)
}

// NewPoller creates a Poller. observe may be nil.
func NewPoller(connector Connector, logger zerolog.Logger, observe func(fetched int)) (*Poller, error) {
	if connector == nil {
		return nil, errors.New("mailbox: nil connector")
	}
	return &Poller{
		connector: connector,
		logger:    logger.With().Str("component", "mailbox").Logger(),
		observe:   observe,
	}, nil
}

// Poll fetches every message with a UID above cursor. An empty mailbox resets
// the cursor to zero; a mailbox whose UIDNext is not above cursor was recreated
// and is read from the start. A message whose body cannot be parsed is skipped,
// but the cursor still moves past it.
func (p *Poller) Poll(ctx context.Context, cursor uint32) (Batch, error) {
	const op = "mailbox.Poll"

	mb, err := p.connector.Open(ctx)
	if err != nil {
		return Batch{NextCursor: cursor}, fmt.Errorf("%s: open: %w", op, err)
	}
	defer func() {
		if cerr := mb.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("close mailbox")
		}
	}()

	status, err := mb.Status(ctx)
	if err != nil {
		return Batch{NextCursor: cursor}, fmt.Errorf("%s: status: %w", op, err)
	}
	if status.Messages == 0 {
		if cursor != 0 {
			p.logger.Info().Uint32("cursor", cursor).Msg("mailbox empty, resetting cursor")
		}
		return Batch{NextCursor: 0}, nil
	}
	var last uint32 // highest assigned UID, 0 when unknown
	if status.UIDNext > 0 {
		last = status.UIDNext - 1
		if last < cursor {
			p.logger.Warn().Uint32("cursor", cursor).Uint32("uid_next", status.UIDNext).Msg("mailbox was recreated, rescanning from start")
			cursor = 0
		}
		if last == cursor {
			return Batch{NextCursor: cursor}, nil
		}
	}

	envelopes, err := mb.Fetch(ctx, cursor+1, last)
	if err != nil {
		return Batch{NextCursor: cursor}, fmt.Errorf("%s: fetch %d:%d: %w", op, cursor+1, last, err)
	}

	batch := Batch{NextCursor: cursor}
	for _, env := range envelopes {
		// "n:*" also matches the newest message when its UID is below n
		if env.UID <= cursor {
			continue
		}
		batch.Fetched++
		if env.UID > batch.NextCursor {
			batch.NextCursor = env.UID
		}
		msg, err := parse(env)
		if err != nil {
			batch.Skipped++
			p.logger.Warn().Err(err).Uint32("uid", env.UID).Msg("skipping unparseable message")
			continue
		}
		batch.Messages = append(batch.Messages, msg)
	}
	if p.observe != nil {
		p.observe(batch.Fetched)
	}

	p.logger.Debug().
		Int("fetched", batch.Fetched).
		Int("skipped", batch.Skipped).
		Uint32("next_cursor", batch.NextCursor).
		Msg("poll finished")
	return batch, nil
}

func parse(env Envelope) (Message, error) {
	parsed, err := ParseMessage(env.Raw)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		UID:        env.UID,
		MessageID:  NormalizeMessageID(env.MessageID),
		Subject:    env.Subject,
		From:       env.From,
		To:         mergeAddresses(env.To, parsed.Recipients),
		ReceivedAt: env.ReceivedAt,
		Body:       StripQuoted(parsed.Text),
	}
	if msg.MessageID == "" {
		msg.MessageID = parsed.MessageID
	}
	if msg.MessageID == "" {
		msg.MessageID = fmt.Sprintf("%x@sha256.local", sha256.Sum256(env.Raw))
	}
	if msg.Subject == "" {
		msg.Subject = parsed.Subject
	}
	if msg.From == "" {
		msg.From = parsed.From
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = parsed.Date
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	if msg.From == "" {
		return Message{}, errors.New("message has no sender")
	}
	return msg, nil
}

// NormalizeMessageID strips angle brackets and whitespace from a Message-Id.
func NormalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func mergeAddresses(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, addr := range list {
			addr = strings.TrimSpace(addr)
			key := strings.ToLower(addr)
			if addr == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
