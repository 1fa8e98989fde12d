package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPConfig holds the connection settings of the inbound mailbox.
type IMAPConfig struct {
	Address  string
	Username string
	Password string
	Mailbox  string
	Timeout  time.Duration
}

// IMAPConnector opens read-only IMAP sessions over TLS.
type IMAPConnector struct {
	cfg IMAPConfig
}

// NewIMAPConnector validates cfg and returns a connector.
func NewIMAPConnector(cfg IMAPConfig) (*IMAPConnector, error) {
	if cfg.Address == "" {
		return nil, errors.New("mailbox: IMAP address is required")
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAPConnector{cfg: cfg}, nil
}

// Open dials, logs in and selects the configured mailbox read-only.
func (c *IMAPConnector) Open(ctx context.Context) (Mailbox, error) {
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	cl, err := client.DialWithDialerTLS(dialer, c.cfg.Address, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Address, err)
	}
	cl.Timeout = c.cfg.Timeout

	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = cl.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	status, err := cl.Select(c.cfg.Mailbox, true)
	if err != nil {
		_ = cl.Logout()
		return nil, fmt.Errorf("select %s: %w", c.cfg.Mailbox, err)
	}
	return &imapMailbox{client: cl, status: Status{Messages: status.Messages, UIDNext: status.UidNext}}, nil
}

type imapMailbox struct {
	client *client.Client
	status Status
}

func (m *imapMailbox) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	return m.status, nil
}

// Fetch issues UID FETCH from:to; to == 0 is sent as "*".
func (m *imapMailbox) Fetch(ctx context.Context, from, to uint32) ([]Envelope, error) {
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, to)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, items, ch)
	}()

	var out []Envelope
	for msg := range ch {
		if msg == nil {
			continue
		}
		env := Envelope{UID: msg.Uid, ReceivedAt: msg.InternalDate}
		if e := msg.Envelope; e != nil {
			env.MessageID = e.MessageId
			env.Subject = e.Subject
			if len(e.From) > 0 {
				env.From = e.From[0].Address()
			}
			for _, a := range append(append([]*imap.Address{}, e.To...), e.Cc...) {
				env.To = append(env.To, a.Address())
			}
			if env.ReceivedAt.IsZero() {
				env.ReceivedAt = e.Date
			}
		}
		if body := msg.GetBody(section); body != nil {
			raw, err := io.ReadAll(body)
			if err != nil {
				// Drain the channel so the fetch goroutine can finish.
				for range ch {
				}
				<-done
				return nil, fmt.Errorf("read body uid %d: %w", msg.Uid, err)
			}
			env.Raw = raw
		}
		out = append(out, env)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *imapMailbox) Close() error {
	return m.client.Logout()
}
