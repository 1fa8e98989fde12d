// Package replyaddr encodes invitation correlation tokens into plus-addressed
// reply addresses and recovers them from inbound recipients.
package replyaddr

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

const (
	// DefaultPrefix marks the sub-address segment that carries a token.
	DefaultPrefix = "rfq"
	// TokenLength is the number of characters in a correlation token.
	TokenLength = 12
)

// ErrInvalidBaseAddress is returned when the configured reply mailbox cannot carry a sub-address.
var ErrInvalidBaseAddress = errors.New("replyaddr: invalid base address")

// Router builds and parses reply addresses of the form local+prefix_TOKEN@domain.
type Router struct {
	base   string
	prefix string
}

// NewRouter validates base and returns a Router bound to it.
func NewRouter(base, prefix string) (*Router, error) {
	if _, _, err := splitAddress(base); err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, "+_@ ") {
		return nil, fmt.Errorf("replyaddr: prefix %q contains a separator", prefix)
	}
	return &Router{base: strings.TrimSpace(base), prefix: prefix}, nil
}

// Base returns the mailbox address the router encodes into.
func (r *Router) Base() string {
	return r.base
}

// Encode returns the reply address for token.
func (r *Router) Encode(token string) (string, error) {
	return Encode(r.base, r.prefix, token)
}

// Decode extracts a token from address.
func (r *Router) Decode(address string) (string, bool) {
	return Decode(address, r.prefix)
}

// DecodeAny returns the first token found among addresses.
func (r *Router) DecodeAny(addresses []string) (string, bool) {
	for _, addr := range addresses {
		if token, ok := r.Decode(addr); ok {
			return token, true
		}
	}
	return "", false
}

// Encode inserts token into base as a sub-address segment. An existing
// sub-address on base is replaced.
func Encode(base, prefix, token string) (string, error) {
	local, domain, err := splitAddress(base)
	if err != nil {
		return "", err
	}
	if !ValidToken(token) {
		return "", fmt.Errorf("replyaddr: invalid token")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	return local + "+" + prefix + "_" + token + "@" + domain, nil
}

// Decode extracts the token from the sub-address of address. The prefix is
// matched case-insensitively, the token is returned as written. A missing or
// foreign sub-address reports false: unrelated mail shares the mailbox.
func Decode(address, prefix string) (string, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", false
	}
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	local, _, err := splitAddress(address)
	if err != nil {
		return "", false
	}
	plus := strings.IndexByte(local, '+')
	if plus < 0 {
		return "", false
	}
	segment := local[plus+1:]
	if prefix == "" {
		prefix = DefaultPrefix
	}
	marker := prefix + "_"
	if len(segment) <= len(marker) || !strings.EqualFold(segment[:len(marker)], marker) {
		return "", false
	}
	token := segment[len(marker):]
	if !ValidToken(token) {
		return "", false
	}
	return token, true
}

// NewToken returns a random token of TokenLength characters from the base58
// alphabet (letters and digits, no look-alikes, no separators).
func NewToken() (string, error) {
	var sb strings.Builder
	for sb.Len() < TokenLength {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("replyaddr: read random: %w", err)
		}
		// first byte is forced non-zero so the encoding never starts with padding '1's
		buf[0] |= 0x80
		sb.WriteString(base58.Encode(buf))
	}
	return sb.String()[:TokenLength], nil
}

// ValidToken reports whether token has the expected length and alphabet.
func ValidToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for _, c := range token {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Mask hides all but the last four characters of a token for logging.
func Mask(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}

func splitAddress(address string) (string, string, error) {
	address = strings.TrimSpace(address)
	at := strings.LastIndexByte(address, '@')
	if address == "" || at <= 0 || at == len(address)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidBaseAddress, address)
	}
	local, domain := address[:at], address[at+1:]
	if strings.ContainsAny(local, " <>\"") || strings.ContainsAny(domain, " <>@\"") || !strings.Contains(domain, ".") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidBaseAddress, address)
	}
	return local, domain, nil
}
