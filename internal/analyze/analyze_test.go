package analyze

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/gmail/gmailtest"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingClient struct {
	*gmailtest.Mailbox
	queries []string
}

func (r *recordingClient) List(ctx context.Context, account string, q gmail.Query, limit int) ([]gmail.MessageID, error) {
	r.queries = append(r.queries, q.Raw)
	return r.Mailbox.List(ctx, account, gmail.Query{Raw: DefaultQuery}, limit)
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "30d", want: 30 * 24 * time.Hour},
		{in: "1.5d", want: 36 * time.Hour},
		{in: "12h", want: 12 * time.Hour},
		{in: "-2d", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAge(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAge(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseAge(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestRunFlat(t *testing.T) {
	box := gmailtest.New()
	box.AddUnread("work", "m1", "Alice <alice@example.com>", "one")
	box.Add("work", gmail.Message{
		ID:       "m2",
		LabelIDs: []gmail.LabelID{gmail.LabelInbox},
		Headers:  map[string]string{"From": "list@dev.example", "Subject": "two", "List-Id": "Dev <dev.example.org>"},
	})
	svc := NewService(box, slogDiscard())

	inv, err := svc.Run(context.Background(), "work", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.Total != 2 || len(inv.Messages) != 2 || len(inv.Groups) != 0 {
		t.Fatalf("inventory = %+v", inv)
	}
	if !inv.Messages[0].Unread || inv.Messages[1].Unread {
		t.Fatalf("unread flags wrong: %+v", inv.Messages)
	}
	if inv.Messages[1].ListID != "dev.example.org" || inv.Messages[0].Sender != "alice@example.com" {
		t.Fatalf("derived fields wrong: %+v", inv.Messages)
	}
}

func TestRunGroupsAndSkipsUnreadable(t *testing.T) {
	box := gmailtest.New()
	box.AddUnread("work", "a1", "News <news@paper.example>", "mon")
	box.AddUnread("work", "b1", "bob@example.com", "hi")
	box.AddUnread("work", "a2", "news@paper.example", "tue")
	box.AddUnread("work", "x", "ghost@example.com", "boo")
	box.GetErr["x"] = errors.New("metadata unavailable")
	svc := NewService(box, slogDiscard())

	inv, err := svc.Run(context.Background(), "work", Options{GroupBy: GroupSender})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []Group{
		{Key: "news@paper.example", Count: 2, Unread: 2, Subject: "mon", IDs: []gmail.MessageID{"a1", "a2"}},
		{Key: "bob@example.com", Count: 1, Unread: 1, Subject: "hi", IDs: []gmail.MessageID{"b1"}},
	}
	if diff := cmp.Diff(want, inv.Groups, cmpopts.IgnoreFields(Group{}, "Latest")); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
	if inv.Total != 3 {
		t.Fatalf("total = %d", inv.Total)
	}

	byThread, err := svc.Run(context.Background(), "work", Options{GroupBy: GroupThread})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(byThread.Groups) != 3 {
		t.Fatalf("thread groups = %+v", byThread.Groups)
	}
}

func TestOlderThanAddsBefore(t *testing.T) {
	rc := &recordingClient{Mailbox: gmailtest.New()}
	svc := NewService(rc, slogDiscard())
	svc.Clock = func() time.Time { return time.Unix(1700000000, 0) }
	if _, err := svc.Run(context.Background(), "work", Options{OlderThan: 24 * time.Hour, Count: 5}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rc.queries) != 1 || !strings.Contains(rc.queries[0], "before:1699913600") || !strings.HasPrefix(rc.queries[0], "in:inbox") {
		t.Fatalf("queries = %v", rc.queries)
	}
}

func TestParseGroupBy(t *testing.T) {
	if g, err := ParseGroupBy("Sender"); err != nil || g != GroupSender {
		t.Fatalf("ParseGroupBy = %v, %v", g, err)
	}
	if _, err := ParseGroupBy("label"); err == nil {
		t.Fatal("expected error")
	}
}
