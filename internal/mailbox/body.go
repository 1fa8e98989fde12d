package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// ErrNoTextBody is returned when a message carries neither a text/plain nor a text/html part.
var ErrNoTextBody = errors.New("mailbox: message has no text body")

// Parsed holds the header fields and readable text of a raw RFC 5322 message.
type Parsed struct {
	MessageID  string
	Subject    string
	From       string
	Date       time.Time
	Recipients []string
	Text       string
}

var recipientHeaders = []string{"To", "Cc", "Delivered-To", "X-Original-To"}

// ParseMessage reads raw and returns its text. text/plain is preferred;
// text/html is reduced to text when no plain part exists.
func ParseMessage(raw []byte) (Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Parsed{}, fmt.Errorf("read header: %w", err)
	}

	var p Parsed
	p.MessageID, _ = mr.Header.MessageID()
	p.Subject, _ = mr.Header.Subject()
	p.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		p.From = from[0].Address
	}
	for _, key := range recipientHeaders {
		addrs, err := mr.Header.AddressList(key)
		if err != nil {
			// Delivered-To is often a bare address the list parser rejects.
			if v := strings.TrimSpace(mr.Header.Get(key)); v != "" {
				p.Recipients = append(p.Recipients, v)
			}
			continue
		}
		for _, a := range addrs {
			p.Recipients = append(p.Recipients, a.Address)
		}
	}

	var plain, htmlText string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return Parsed{}, fmt.Errorf("read part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return Parsed{}, fmt.Errorf("read %s body: %w", ct, err)
		}
		switch ct {
		case "text/plain", "":
			if plain == "" {
				plain = string(body)
			}
		case "text/html":
			if htmlText == "" {
				htmlText = HTMLToText(string(body))
			}
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		p.Text = normalizeNewlines(plain)
	case strings.TrimSpace(htmlText) != "":
		p.Text = htmlText
	default:
		return Parsed{}, ErrNoTextBody
	}
	return p, nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "ul": true, "ol": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "blockquote": true, "hr": true,
}

// HTMLToText extracts visible text from an HTML document. Block elements
// become line breaks; script and style contents are dropped. A blockquote is
// rendered with "> " prefixes so StripQuoted removes it.
func HTMLToText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		b     strings.Builder
		skip  int
		quote int
	)
	newline := func() {
		b.WriteByte('\n')
		if quote > 0 {
			b.WriteString("> ")
		}
	}
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return cleanText(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "script" || tag == "style" || tag == "head":
				if tt == html.StartTagToken {
					skip++
				}
			case tag == "blockquote":
				quote++
				newline()
			case blockTags[tag]:
				newline()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "script" || tag == "style" || tag == "head":
				if skip > 0 {
					skip--
				}
			case tag == "blockquote":
				if quote > 0 {
					quote--
				}
				newline()
			case blockTags[tag]:
				newline()
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			b.WriteString(strings.Join(strings.Fields(string(z.Text())), " "))
			b.WriteByte(' ')
		}
	}
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line == ">" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

var (
	wroteLine     = regexp.MustCompile(`(?i)^on\s.+wrote:\s*$`)
	wroteTail     = regexp.MustCompile(`(?i)wrote:\s*$`)
	separatorLine = regexp.MustCompile(`(?i)^(-{2,}\s*original message\s*-{2,}|-{5,}\s*forwarded message\s*-{5,}|begin forwarded message:|_{20,})\s*$`)
	headerLine    = regexp.MustCompile(`(?i)^(from|sent|to|date|subject|cc):\s`)
	signatureLine = regexp.MustCompile(`(?i)^sent from my\s`)
)

// StripQuoted returns only the author's own text from a reply: quoted lines
// and everything from the first reply-chain marker on are removed.
func StripQuoted(text string) string {
	lines := strings.Split(normalizeNewlines(text), "\n")
	kept := make([]string, 0, len(lines))

scan:
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, ">"):
			continue
		case wroteLine.MatchString(line):
			break scan
		case strings.HasPrefix(strings.ToLower(line), "on ") && i+1 < len(lines) && wroteTail.MatchString(strings.TrimSpace(lines[i+1])):
			break scan
		case separatorLine.MatchString(line):
			break scan
		case signatureLine.MatchString(line):
			break scan
		case strings.HasPrefix(strings.ToLower(line), "from:") && isHeaderBlock(lines[i+1:]):
			break scan
		}
		kept = append(kept, strings.TrimRight(lines[i], " \t"))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// isHeaderBlock reports whether the lines after a From: line look like a forwarded header block.
func isHeaderBlock(rest []string) bool {
	for i := 0; i < len(rest) && i < 3; i++ {
		if headerLine.MatchString(strings.TrimSpace(rest[i])) {
			return true
		}
	}
	return false
}
