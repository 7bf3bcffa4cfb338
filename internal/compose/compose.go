// Package compose builds outgoing RFC 5322 messages and parses raw messages
// for display.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/joshsymonds/inboxd/internal/gmail"
)

// Draft is an outgoing plain-text message.
type Draft struct {
	From       string
	To         string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
	ThreadID   string
	Date       time.Time
}

// Build renders d as an RFC 5322 message.
func Build(d Draft) ([]byte, error) {
	to, err := mail.ParseAddressList(d.To)
	if err != nil || len(to) == 0 {
		return nil, fmt.Errorf("parse recipients %q: %w", d.To, errOrEmpty(err))
	}
	var h mail.Header
	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if strings.TrimSpace(d.From) != "" {
		from, err := mail.ParseAddressList(d.From)
		if err != nil {
			return nil, fmt.Errorf("parse sender %q: %w", d.From, err)
		}
		h.SetAddressList("From", from)
	}
	h.SetAddressList("To", to)
	h.SetSubject(d.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	if id := trimID(d.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
	}
	if len(d.References) > 0 {
		refs := make([]string, 0, len(d.References))
		for _, r := range d.References {
			if id := trimID(r); id != "" {
				refs = append(refs, id)
			}
		}
		h.SetMsgIDList("References", refs)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, d.Body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("no recipients")
}

func trimID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// Reply drafts a response to orig, threading it with In-Reply-To and
// References and prefixing the subject with "Re:" once.
func Reply(orig gmail.Message, body string) (Draft, error) {
	to := orig.Header("Reply-To")
	if strings.TrimSpace(to) == "" {
		to = orig.From()
	}
	if strings.TrimSpace(to) == "" {
		return Draft{}, errors.New("original message has no sender to reply to")
	}
	subject := orig.Subject()
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	msgID := orig.Header("Message-ID")
	refs := strings.Fields(orig.Header("References"))
	if msgID != "" {
		refs = append(refs, msgID)
	}
	return Draft{
		To:         to,
		Subject:    subject,
		Body:       body,
		InReplyTo:  msgID,
		References: refs,
		ThreadID:   orig.ThreadID,
	}, nil
}

// Attachment describes a non-inline part.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// Content is a parsed message ready for display.
type Content struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Date        time.Time    `json:"date"`
	Text        string       `json:"text"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Links       []string     `json:"links,omitempty"`
}

// Parse reads a raw RFC 5322 message. A message that is not MIME is
// returned as plain text.
func Parse(raw []byte) (Content, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Content{Text: string(raw)}, nil
	}
	defer func() { _ = mr.Close() }()

	var c Content
	if addrs, err := mr.Header.AddressList("From"); err == nil {
		c.From = formatAddresses(addrs)
	}
	if addrs, err := mr.Header.AddressList("To"); err == nil {
		c.To = formatAddresses(addrs)
	}
	c.Subject, _ = mr.Header.Subject()
	c.Date, _ = mr.Header.Date()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c, fmt.Errorf("read message part: %w", err)
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return c, fmt.Errorf("read part body: %w", err)
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch {
			case strings.HasPrefix(ct, "text/html"):
				if c.HTML == "" {
					c.HTML = string(body)
				}
			case ct == "" || strings.HasPrefix(ct, "text/plain"):
				if c.Text == "" {
					c.Text = string(body)
				}
			}
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			ct, _, _ := h.ContentType()
			c.Attachments = append(c.Attachments, Attachment{Filename: name, MIMEType: ct, Size: len(body)})
		}
	}
	return c, nil
}

func formatAddresses(addrs []*mail.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

var (
	hrefRe = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
	urlRe  = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)
)

// Links extracts unique http(s) links from a text body and the href
// attributes of an HTML body, in order of appearance.
func Links(text, html string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		u = strings.TrimRight(u, ".,;:!?")
		if !strings.HasPrefix(strings.ToLower(u), "http://") && !strings.HasPrefix(strings.ToLower(u), "https://") {
			return
		}
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, m := range urlRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		add(strings.ReplaceAll(m[1], "&amp;", "&"))
	}
	return out
}
