// Package auditlog keeps the local records that make destructive actions
// reversible: the deletion and archive logs, the sent log, and the usage
// log.
package auditlog

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/jsonstore"
)

// Kind selects one of the reversible audit logs.
type Kind int

const (
	Deletions Kind = iota + 1
	Archives
)

func (k Kind) String() string {
	switch k {
	case Deletions:
		return "deletion"
	case Archives:
		return "archive"
	default:
		return "unknown"
	}
}

func (k Kind) file() string {
	if k == Archives {
		return config.ArchiveLogFile
	}
	return config.DeletionLogFile
}

// Entry describes one audited action, enough to reverse it.
type Entry struct {
	At       time.Time       `json:"at"`
	Account  string          `json:"account"`
	ID       gmail.MessageID `json:"id"`
	ThreadID string          `json:"threadId"`
	From     string          `json:"from"`
	Subject  string          `json:"subject"`
	Snippet  string          `json:"snippet"`
}

// EntryFor builds an entry from message metadata.
func EntryFor(account string, msg gmail.Message, at time.Time) Entry {
	return Entry{
		At:       at.UTC(),
		Account:  account,
		ID:       msg.ID,
		ThreadID: msg.ThreadID,
		From:     msg.From(),
		Subject:  msg.Subject(),
		Snippet:  msg.Snippet,
	}
}

// record is the on-disk shape. Only the timestamp field for the log's kind
// is populated.
type record struct {
	DeletedAt  string          `json:"deletedAt,omitempty"`
	ArchivedAt string          `json:"archivedAt,omitempty"`
	Account    string          `json:"account"`
	ID         gmail.MessageID `json:"id"`
	ThreadID   string          `json:"threadId"`
	From       string          `json:"from"`
	Subject    string          `json:"subject"`
	Snippet    string          `json:"snippet"`
}

func (k Kind) toRecord(e Entry) record {
	r := record{
		Account:  e.Account,
		ID:       e.ID,
		ThreadID: e.ThreadID,
		From:     e.From,
		Subject:  e.Subject,
		Snippet:  e.Snippet,
	}
	stamp := e.At.UTC().Format(time.RFC3339Nano)
	if k == Archives {
		r.ArchivedAt = stamp
	} else {
		r.DeletedAt = stamp
	}
	return r
}

func (k Kind) fromRecord(r record) Entry {
	raw := r.DeletedAt
	if k == Archives {
		raw = r.ArchivedAt
	}
	at, _ := time.Parse(time.RFC3339Nano, raw)
	return Entry{
		At:       at,
		Account:  r.Account,
		ID:       r.ID,
		ThreadID: r.ThreadID,
		From:     r.From,
		Subject:  r.Subject,
		Snippet:  r.Snippet,
	}
}

// Log is a whole-file JSON array of entries, ordered by insertion.
type Log struct {
	kind  Kind
	path  string
	Clock func() time.Time
}

// Open returns the log of kind under dir.
func Open(dir string, kind Kind) *Log {
	return &Log{kind: kind, path: filepath.Join(dir, kind.file()), Clock: time.Now}
}

// Kind reports which log this is.
func (l *Log) Kind() Kind { return l.kind }

// Path is the backing file.
func (l *Log) Path() string { return l.path }

func (l *Log) now() time.Time {
	if l.Clock == nil {
		return time.Now()
	}
	return l.Clock()
}

func (l *Log) read() []Entry {
	recs := jsonstore.Read(l.path, []record{})
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, l.kind.fromRecord(r))
	}
	return out
}

func (l *Log) update(op string, fn func([]Entry) []Entry) error {
	err := jsonstore.Update(l.path, []record{}, func(recs []record) ([]record, error) {
		entries := make([]Entry, 0, len(recs))
		for _, r := range recs {
			entries = append(entries, l.kind.fromRecord(r))
		}
		entries = fn(entries)
		out := make([]record, 0, len(entries))
		for _, e := range entries {
			out = append(out, l.kind.toRecord(e))
		}
		return out, nil
	})
	if err != nil {
		return fault.New(fault.IOError, op, err)
	}
	return nil
}

// Append records entries in a single atomic write. An entry whose id is
// already present replaces the older one so ids stay unique.
func (l *Log) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.update("append "+l.kind.String()+" log", func(existing []Entry) []Entry {
		incoming := make(map[gmail.MessageID]struct{}, len(entries))
		for _, e := range entries {
			incoming[e.ID] = struct{}{}
		}
		kept := existing[:0]
		for _, e := range existing {
			if _, ok := incoming[e.ID]; ok {
				continue
			}
			kept = append(kept, e)
		}
		seen := make(map[gmail.MessageID]struct{}, len(entries))
		for _, e := range entries {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			kept = append(kept, e)
		}
		return kept
	})
}

// List returns entries recorded within the last sinceDays days, or all
// entries when sinceDays <= 0, in insertion order.
func (l *Log) List(sinceDays int) []Entry {
	entries := l.read()
	if sinceDays <= 0 {
		return entries
	}
	cutoff := l.now().Add(-time.Duration(sinceDays) * 24 * time.Hour)
	out := entries[:0]
	for _, e := range entries {
		if !e.At.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the entries for ids, in the order of ids. Unknown ids are
// skipped.
func (l *Log) Find(ids []gmail.MessageID) []Entry {
	byID := make(map[gmail.MessageID]Entry)
	for _, e := range l.read() {
		byID[e.ID] = e
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the n most recent entries, newest first.
func (l *Log) Last(n int) []Entry {
	entries := l.read()
	// Stable so later insertions win ties on identical timestamps.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })
	reverseTies(entries)
	if n >= 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

// reverseTies flips runs of equal timestamps so the latest insertion comes
// first within the run.
func reverseTies(entries []Entry) {
	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && entries[j].At.Equal(entries[i].At) {
			j++
		}
		for a, b := i, j-1; a < b; a, b = a+1, b-1 {
			entries[a], entries[b] = entries[b], entries[a]
		}
		i = j
	}
}

// RemoveByIDs deletes the entries for ids and reports how many were removed.
func (l *Log) RemoveByIDs(ids []gmail.MessageID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[gmail.MessageID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	removed := 0
	err := l.update("trim "+l.kind.String()+" log", func(existing []Entry) []Entry {
		kept := existing[:0]
		for _, e := range existing {
			if _, ok := drop[e.ID]; ok {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		return kept
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
