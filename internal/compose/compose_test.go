package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joshsymonds/inboxd/internal/gmail"
)

func TestBuildAndParse(t *testing.T) {
	raw, err := Build(Draft{
		From:    "Me <me@example.com>",
		To:      "Alice <alice@example.com>, bob@example.com",
		Subject: "Quarterly numbers",
		Body:    "See https://example.com/report.\n",
		Date:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	text := string(raw)
	for _, want := range []string{"Subject: Quarterly numbers", "Message-Id:", "Content-Type: text/plain"} {
		if !strings.Contains(text, want) {
			t.Fatalf("built message missing %q:\n%s", want, text)
		}
	}

	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Subject != "Quarterly numbers" || !strings.Contains(c.To, "alice@example.com") || !strings.Contains(c.To, "bob@example.com") {
		t.Fatalf("parsed headers = %+v", c)
	}
	if strings.TrimSpace(c.Text) != "See https://example.com/report." {
		t.Fatalf("parsed body = %q", c.Text)
	}
	if diff := cmp.Diff([]string{"https://example.com/report"}, Links(c.Text, c.HTML)); diff != "" {
		t.Fatalf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsBadRecipients(t *testing.T) {
	if _, err := Build(Draft{To: "", Subject: "x"}); err == nil {
		t.Fatal("expected error for empty recipients")
	}
	if _, err := Build(Draft{To: "not an address", Subject: "x"}); err == nil {
		t.Fatal("expected error for bad recipients")
	}
}

func TestReplyThreads(t *testing.T) {
	orig := gmail.Message{
		ID:       "m1",
		ThreadID: "thread-9",
		Headers: map[string]string{
			"From":       "Alice <alice@example.com>",
			"Subject":    "Lunch?",
			"Message-ID": "<abc@mail.example.com>",
			"References": "<root@mail.example.com>",
		},
	}
	d, err := Reply(orig, "Sure")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if d.Subject != "Re: Lunch?" || d.ThreadID != "thread-9" || d.To != "Alice <alice@example.com>" {
		t.Fatalf("draft = %+v", d)
	}
	raw, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, "In-Reply-To: <abc@mail.example.com>") {
		t.Fatalf("missing In-Reply-To:\n%s", text)
	}
	if !strings.Contains(text, "<root@mail.example.com> <abc@mail.example.com>") {
		t.Fatalf("missing References chain:\n%s", text)
	}

	again, _ := Reply(gmail.Message{Headers: map[string]string{"From": "a@b.c", "Subject": "RE: hi", "Reply-To": "list@b.c"}}, "x")
	if again.Subject != "RE: hi" || again.To != "list@b.c" {
		t.Fatalf("reply-to handling = %+v", again)
	}
}

func TestParseMultipart(t *testing.T) {
	raw := "From: Shop <shop@example.com>\r\n" +
		"To: me@example.com\r\n" +
		"Subject: Sale\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Visit http://shop.example/sale today!\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<a href=\"https://shop.example/unsub?a=1&amp;b=2\">unsubscribe</a><a href='mailto:x@y'>mail</a>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=invoice.pdf\r\n" +
		"\r\n" +
		"PDFDATA\r\n" +
		"--XYZ--\r\n"
	c, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Attachments) != 1 || c.Attachments[0].Filename != "invoice.pdf" {
		t.Fatalf("attachments = %+v", c.Attachments)
	}
	want := []string{"http://shop.example/sale", "https://shop.example/unsub?a=1&b=2"}
	if diff := cmp.Diff(want, Links(c.Text, c.HTML)); diff != "" {
		t.Fatalf("links mismatch (-want +got):\n%s", diff)
	}
}
