package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig holds submission server settings.
type SMTPConfig struct {
	Address  string
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport submits messages over SMTP with STARTTLS and PLAIN auth.
type SMTPTransport struct {
	cfg  SMTPConfig
	host string
}

// NewSMTPTransport validates cfg and returns a transport.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	host, _, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("delivery: invalid SMTP address %q: %w", cfg.Address, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPTransport{cfg: cfg, host: host}, nil
}

// Send composes msg and submits it in one SMTP session.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	raw, id, err := Compose(msg, time.Now())
	if err != nil {
		return "", err
	}

	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Address)
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return "", err
	}
	defer c.Close()
	c.CommandTimeout = t.cfg.Timeout
	c.SubmissionTimeout = t.cfg.Timeout

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			return "", err
		}
	}
	if t.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
			return "", err
		}
	}
	if err := c.Mail(msg.From, nil); err != nil {
		return "", err
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return "", err
		}
	}
	w, err := c.Data()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, bytes.NewReader(raw)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	if err := c.Quit(); err != nil {
		return "", err
	}
	return id, nil
}

// Compose renders msg as a plain-text RFC 5322 message with a generated
// Message-Id, returned without angle brackets.
func Compose(msg Message, now time.Time) ([]byte, string, error) {
	if msg.From == "" || len(msg.To) == 0 {
		return nil, "", errors.New("delivery: message needs a sender and at least one recipient")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.From}})
	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	if msg.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: msg.ReplyTo}})
	}
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	domain := "localhost"
	if at := strings.LastIndex(msg.From, "@"); at >= 0 && at < len(msg.From)-1 {
		domain = msg.From[at+1:]
	}
	if err := h.GenerateMessageIDWithHostname(domain); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	id, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("read message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), id, nil
}
