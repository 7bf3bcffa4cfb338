package seen

import (
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

func fixedTracker(t *testing.T, now *time.Time) *Tracker {
	t.Helper()
	tr := NewTracker(t.TempDir())
	tr.Clock = func() time.Time { return *now }
	return tr
}

func ids(vals ...string) []gmail.MessageID {
	out := make([]gmail.MessageID, len(vals))
	for i, v := range vals {
		out[i] = gmail.MessageID(v)
	}
	return out
}

func seenIDs(st State) []string {
	out := make([]string, 0, len(st.Seen))
	for _, e := range st.Seen {
		out = append(out, string(e.ID))
	}
	sort.Strings(out)
	return out
}

func TestGetNewFiltersSeen(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tr := fixedTracker(t, &now)
	if err := tr.MarkSeen("a", ids("x", "y")); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	got := tr.GetNew("a", ids("x", "y", "z"))
	if diff := cmp.Diff(ids("z"), got); diff != "" {
		t.Fatalf("GetNew mismatch (-want +got):\n%s", diff)
	}
	if other := tr.GetNew("b", ids("x")); len(other) != 1 {
		t.Fatalf("accounts must be independent, got %v", other)
	}
}

func TestMarkSeenUnionIsCommutativeAndIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	split := fixedTracker(t, &now)
	joined := fixedTracker(t, &now)
	repeated := fixedTracker(t, &now)

	for _, batch := range [][]gmail.MessageID{ids("b", "c"), ids("a", "b")} {
		if err := split.MarkSeen("acct", batch); err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
	}
	if err := joined.MarkSeen("acct", ids("a", "b", "c")); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := repeated.MarkSeen("acct", ids("c", "a", "b", "a")); err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
	}

	want := []string{"a", "b", "c"}
	for name, tr := range map[string]*Tracker{"split": split, "joined": joined, "repeated": repeated} {
		if diff := cmp.Diff(want, seenIDs(tr.State("acct"))); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestMarkSeenPrunesExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tr := fixedTracker(t, &now)
	if err := tr.MarkSeen("acct", ids("old")); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	now = now.Add(DefaultTTL + time.Hour)
	if err := tr.MarkSeen("acct", ids("new")); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if diff := cmp.Diff([]string{"new"}, seenIDs(tr.State("acct"))); diff != "" {
		t.Fatalf("prune mismatch (-want +got):\n%s", diff)
	}
	if got := tr.GetNew("acct", ids("old")); len(got) != 1 {
		t.Fatalf("expired id should be new again, got %v", got)
	}
}

func TestLastCheckAndNotified(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tr := fixedTracker(t, &now)
	if !tr.State("acct").LastCheckTime().IsZero() {
		t.Fatal("expected zero last check")
	}
	if err := tr.UpdateLastCheck("acct"); err != nil {
		t.Fatalf("UpdateLastCheck: %v", err)
	}
	if err := tr.UpdateLastNotified("acct"); err != nil {
		t.Fatalf("UpdateLastNotified: %v", err)
	}
	st := tr.State("acct")
	if !st.LastCheckTime().Equal(now) || !st.LastNotifiedTime().Equal(now) {
		t.Fatalf("unexpected timestamps %+v", st)
	}
}

func TestMarkSeenKeepsMalformedState(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tr := fixedTracker(t, &now)
	path := tr.path("acct")
	const corrupt = `{"seen":[{"id":"x"`
	if err := os.WriteFile(path, []byte(corrupt), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tr.MarkSeen("acct", ids("y")); !fault.Is(err, fault.IOError) {
		t.Fatalf("expected IOError, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != corrupt {
		t.Fatalf("malformed state was rewritten: %q %v", data, err)
	}
}
