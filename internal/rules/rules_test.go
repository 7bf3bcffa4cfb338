package rules

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/joshsymonds/inboxd/internal/actions"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/gmailctl"
)

func msg(from, subject string) gmail.Message {
	return gmail.Message{Headers: map[string]string{"From": from, "Subject": subject}}
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	n := 0
	s.NewID = func() string {
		n++
		return fmt.Sprintf("rule-%d", n)
	}
	s.Clock = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestAddIsIdempotentOnIdentity(t *testing.T) {
	s := testStore(t)
	r := Rule{Action: AlwaysDelete, Sender: "spam.example"}
	first, added, err := s.Add(r)
	if err != nil || !added {
		t.Fatalf("first Add = %v, %v", added, err)
	}
	second, added, err := s.Add(Rule{Action: AlwaysDelete, Sender: " SPAM.example "})
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if added {
		t.Fatal("duplicate identity must not be added")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate should return the existing rule, got %s want %s", second.ID, first.ID)
	}
	if got := s.List(); len(got) != 1 {
		t.Fatalf("rules = %+v", got)
	}
	if _, added, _ := s.Add(Rule{Action: NeverDelete, Sender: "spam.example"}); !added {
		t.Fatal("different action is a different identity")
	}
}

func TestAddValidates(t *testing.T) {
	s := testStore(t)
	if _, _, err := s.Add(Rule{Action: "explode", Sender: "x"}); err == nil {
		t.Fatal("expected bad action error")
	}
	if _, _, err := s.Add(Rule{Action: AutoArchive}); err == nil {
		t.Fatal("expected empty predicate error")
	}
}

func TestRemove(t *testing.T) {
	s := testStore(t)
	a, _, _ := s.Add(Rule{Action: AutoArchive, Sender: "news"})
	b, _, _ := s.Add(Rule{Action: AutoMarkRead, SubjectPattern: "digest"})
	if _, err := s.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if diff := cmp.Diff([]Rule{b}, s.List()); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Remove("missing"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("remove missing = %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	rules := []Rule{
		{ID: "1", Action: AutoArchive, Sender: "newsletter"},
		{ID: "2", Action: AlwaysDelete, Sender: "spam.example"},
		{ID: "3", Action: AutoMarkRead, Sender: "spam.example", SubjectPattern: "receipt"},
		{ID: "4", Action: AutoMarkRead, SubjectPattern: "weekly"},
	}
	tests := []struct {
		name   string
		msg    gmail.Message
		wantID string
	}{
		{name: "sender match", msg: msg("Deals <deals@SPAM.example>", "buy now"), wantID: "2"},
		{name: "first match wins", msg: msg("Deals <deals@spam.example>", "your receipt"), wantID: "2"},
		{name: "subject only", msg: msg("team@corp.example", "Weekly status"), wantID: "4"},
		{name: "both predicates required", msg: msg("someone@else.example", "receipt"), wantID: ""},
		{name: "no match", msg: msg("friend@example.com", "hi"), wantID: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Evaluate(rules, tt.msg)
			if tt.wantID == "" {
				if ok {
					t.Fatalf("expected no rule, got %+v", got)
				}
				return
			}
			if !ok || got.ID != tt.wantID {
				t.Fatalf("got %+v (%v), want rule %s", got, ok, tt.wantID)
			}
		})
	}
}

func TestNeverDeleteSuppressesEverything(t *testing.T) {
	rules := []Rule{
		{ID: "1", Action: AlwaysDelete, Sender: "boss.example"},
		{ID: "2", Action: AutoArchive, SubjectPattern: "urgent"},
		{ID: "3", Action: NeverDelete, Sender: "boss.example"},
	}
	for _, m := range []gmail.Message{
		msg("Boss <ceo@boss.example>", "urgent"),
		msg("ceo@BOSS.example", "anything"),
	} {
		if r, ok := Evaluate(rules, m); ok {
			t.Fatalf("never-delete should suppress, got %+v for %v", r, m.Headers)
		}
	}
	if r, ok := Evaluate(rules, msg("x@other.example", "urgent")); !ok || r.ID != "2" {
		t.Fatalf("unrelated sender should still match rule 2, got %+v", r)
	}
}

func TestActionOp(t *testing.T) {
	if op, ok := AlwaysDelete.Op(); !ok || op != actions.Delete {
		t.Fatalf("always-delete op = %v", op)
	}
	if op, ok := AutoArchive.Op(); !ok || op != actions.Archive {
		t.Fatalf("auto-archive op = %v", op)
	}
	if _, ok := NeverDelete.Op(); ok {
		t.Fatal("never-delete has no op")
	}
}

func TestBuildSuggested(t *testing.T) {
	a := Analysis{
		FrequentDeleters: []SenderStat{{Sender: "Promo@shop.example", Count: 9}, {Sender: "known@x.example", Count: 6}},
		NeverReadSenders: []SenderStat{{Sender: "digest@news.example", Count: 12}, {Sender: "promo@shop.example", Count: 5}},
	}
	existing := []Rule{{Action: AutoArchive, Sender: "known@x.example"}}
	got := BuildSuggested(a, existing)
	want := []Rule{
		{Action: AlwaysDelete, Sender: "promo@shop.example"},
		{Action: AutoArchive, Sender: "digest@news.example"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("suggestions mismatch (-want +got):\n%s", diff)
	}
}

func TestFromGmailctl(t *testing.T) {
	raw := `{"filters":[
		{"criteria":{"from":"alerts@ci.example"},"action":{"removeLabelIds":["INBOX","UNREAD"]}},
		{"criteria":{"subject":"lottery"},"action":{"addLabelIds":["TRASH"]}},
		{"criteria":{"query":"list:dev"},"action":{"removeLabelIds":["INBOX"]}},
		{"criteria":{"from":"boss@corp.example"},"action":{"addLabelIds":["Label_7"]}}
	]}`
	export, err := gmailctl.Decode(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, skipped := FromGmailctl(export)
	want := []Rule{
		{Action: AutoArchive, Sender: "alerts@ci.example"},
		{Action: AutoMarkRead, Sender: "alerts@ci.example"},
		{Action: AlwaysDelete, SubjectPattern: "lottery"},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("imported rules mismatch (-want +got):\n%s", diff)
	}
	if skipped != 2 {
		t.Fatalf("skipped = %d, want 2", skipped)
	}
}

func TestMutationsKeepMalformedRules(t *testing.T) {
	s := testStore(t)
	const corrupt = `{"rules":[{"id":"rule-9","action":"always-delete"`
	if err := os.WriteFile(s.Path, []byte(corrupt), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := s.Add(Rule{Action: AutoArchive, Sender: "news.example"}); !fault.Is(err, fault.IOError) {
		t.Fatalf("Add: expected IOError, got %v", err)
	}
	if _, err := s.Remove("rule-9"); !fault.Is(err, fault.IOError) {
		t.Fatalf("Remove: expected IOError, got %v", err)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil || string(data) != corrupt {
		t.Fatalf("malformed rules file was rewritten: %q %v", data, err)
	}
}
