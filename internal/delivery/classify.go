package delivery

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/emersion/go-smtp"
)

// Class groups transport failures by how they should be retried.
type Class string

const (
	ClassNone      Class = ""
	ClassAuth      Class = "auth"
	ClassRateLimit Class = "rate_limit"
	ClassTransient Class = "transient"
	ClassOther     Class = "other"
)

var (
	authHints      = []string{"authentication", "auth failed", "invalid credentials", "username and password not accepted"}
	rateLimitHints = []string{"rate limit", "rate-limit", "ratelimit", "too many", "throttl", "limit exceeded"}
	transientHints = []string{"timeout", "timed out", "connection reset", "connection refused", "broken pipe", "temporar", "try again"}
)

// Classify maps a transport error to a Class. SMTP reply codes are used when
// available; otherwise network error types and message text decide.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	text := strings.ToLower(err.Error())

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		msg := strings.ToLower(smtpErr.Message)
		switch {
		case smtpErr.Code == 530 || smtpErr.Code == 534 || smtpErr.Code == 535 || containsAny(msg, authHints):
			return ClassAuth
		case smtpErr.Code/100 == 4 && (smtpErr.EnhancedCode[0] == 4 && smtpErr.EnhancedCode[1] == 7 || containsAny(msg, rateLimitHints)):
			return ClassRateLimit
		case smtpErr.Code/100 == 4:
			return ClassTransient
		default:
			return ClassOther
		}
	}

	switch {
	case containsAny(text, authHints):
		return ClassAuth
	case containsAny(text, rateLimitHints):
		return ClassRateLimit
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		containsAny(text, transientHints) {
		return ClassTransient
	}
	return ClassOther
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
