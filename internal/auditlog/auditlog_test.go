package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

func entry(id string, at time.Time) Entry {
	return Entry{At: at, Account: "work", ID: gmail.MessageID(id), ThreadID: "t-" + id, From: "a@b.c", Subject: "s " + id}
}

func entryIDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.ID)
	}
	return out
}

func TestAppendListRemove(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := Open(t.TempDir(), Deletions)
	log.Clock = func() time.Time { return base.Add(48 * time.Hour) }

	if err := log.Append([]Entry{entry("m1", base), entry("m2", base.Add(time.Hour))}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append([]Entry{entry("m3", base.Add(47*time.Hour))}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if diff := cmp.Diff([]string{"m1", "m2", "m3"}, entryIDs(log.List(0))); diff != "" {
		t.Fatalf("List mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"m3"}, entryIDs(log.List(1))); diff != "" {
		t.Fatalf("List(1) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"m3", "m2"}, entryIDs(log.Last(2))); diff != "" {
		t.Fatalf("Last mismatch (-want +got):\n%s", diff)
	}

	removed, err := log.RemoveByIDs([]gmail.MessageID{"m2", "missing"})
	if err != nil {
		t.Fatalf("RemoveByIDs: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if diff := cmp.Diff([]string{"m1", "m3"}, entryIDs(log.List(0))); diff != "" {
		t.Fatalf("after remove (-want +got):\n%s", diff)
	}
}

func TestAppendKeepsIDsUnique(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := Open(t.TempDir(), Deletions)
	if err := log.Append([]Entry{entry("m1", base), entry("m2", base)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append([]Entry{entry("m1", base.Add(time.Hour))}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got := log.List(0)
	if diff := cmp.Diff([]string{"m2", "m1"}, entryIDs(got)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if !got[1].At.Equal(base.Add(time.Hour)) {
		t.Fatalf("re-appended entry should carry the new timestamp, got %s", got[1].At)
	}
}

func TestOnDiskShape(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, kind := range []Kind{Deletions, Archives} {
		log := Open(dir, kind)
		if err := log.Append([]Entry{entry("m1", at)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		raw, err := os.ReadFile(log.Path())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var recs []map[string]any
		if err := json.Unmarshal(raw, &recs); err != nil {
			t.Fatalf("decode: %v", err)
		}
		key := "deletedAt"
		if kind == Archives {
			key = "archivedAt"
		}
		if recs[0][key] != "2026-03-01T12:00:00Z" {
			t.Fatalf("%s log: %s = %v", kind, key, recs[0][key])
		}
		for _, field := range []string{"account", "id", "threadId", "from", "subject", "snippet"} {
			if _, ok := recs[0][field]; !ok {
				t.Fatalf("%s log missing %s", kind, field)
			}
		}
		if got := log.List(0); len(got) != 1 || !got[0].At.Equal(at) {
			t.Fatalf("%s log round trip: %+v", kind, got)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "deletion-log.json")); err != nil {
		t.Fatalf("deletion-log.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive-log.json")); err != nil {
		t.Fatalf("archive-log.json: %v", err)
	}
}

func TestSentLog(t *testing.T) {
	log := OpenSent(t.TempDir())
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	log.Clock = func() time.Time { return now }
	if err := log.Append(SentEntry{SentAt: now.Add(-10 * 24 * time.Hour), To: "old@x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(SentEntry{SentAt: now, To: "new@x", BodyPreview: Preview(strings.Repeat("x", 500))}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := log.List(0); len(got) != 2 {
		t.Fatalf("List(0) = %d entries", len(got))
	}
	recent := log.List(7)
	if len(recent) != 1 || recent[0].To != "new@x" {
		t.Fatalf("List(7) = %+v", recent)
	}
	if n := len([]rune(recent[0].BodyPreview)); n != bodyPreviewLimit+1 {
		t.Fatalf("preview length = %d", n)
	}
}

func TestUsageRotation(t *testing.T) {
	dir := t.TempDir()
	u := OpenUsage(dir)
	u.Disabled = false

	var b strings.Builder
	for i := 0; i < MaxUsageLines+1; i++ {
		fmt.Fprintf(&b, `{"ts":"2026-01-01T00:00:00Z","cmd":"synthetic-%d","flags":[],"success":true}`+"\n", i)
	}
	if err := os.WriteFile(u.Path(), []byte(b.String()), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := u.Log(UsageEntry{Cmd: "latest", Flags: []string{"--json"}, Account: "work", Success: true}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, err := u.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) > MaxUsageLines {
		t.Fatalf("usage log has %d lines, cap %d", len(entries), MaxUsageLines)
	}
	if entries[len(entries)-1].Cmd != "latest" {
		t.Fatalf("latest entry missing, tail = %+v", entries[len(entries)-1])
	}
	if entries[0].Cmd != "synthetic-2" {
		t.Fatalf("oldest lines not dropped, head = %s", entries[0].Cmd)
	}
}

func TestUsageDisabled(t *testing.T) {
	u := OpenUsage(t.TempDir())
	u.Disabled = true
	if err := u.Log(UsageEntry{Cmd: "check"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if _, err := os.Stat(u.Path()); !os.IsNotExist(err) {
		t.Fatalf("disabled usage log should not create the file: %v", err)
	}
}

func TestOpenUsageHonorsEnv(t *testing.T) {
	t.Setenv("INBOXD_NO_ANALYTICS", "1")
	if !OpenUsage(t.TempDir()).Disabled {
		t.Fatal("expected analytics disabled")
	}
}

func TestAppendKeepsMalformedLog(t *testing.T) {
	log := Open(t.TempDir(), Deletions)
	const corrupt = `[{"deletedAt":"2026-03-01T12:00:00Z","account":"work","id":"old1"},`
	if err := os.WriteFile(log.Path(), []byte(corrupt), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := log.Append([]Entry{entry("new1", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))})
	if !fault.Is(err, fault.IOError) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if _, err := log.RemoveByIDs([]gmail.MessageID{"old1"}); !fault.Is(err, fault.IOError) {
		t.Fatalf("RemoveByIDs: expected IOError, got %v", err)
	}
	data, err := os.ReadFile(log.Path())
	if err != nil || string(data) != corrupt {
		t.Fatalf("malformed deletion log was rewritten: %q %v", data, err)
	}
}
