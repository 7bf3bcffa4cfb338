// Package seen tracks, per account, which message ids have already been
// notified so the background check reports each arrival once.
package seen

import (
	"time"

	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/jsonstore"
)

// DefaultTTL is how long a seen id is remembered.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one remembered id.
type Entry struct {
	ID        gmail.MessageID `json:"id"`
	Timestamp int64           `json:"timestamp"`
}

// State is the on-disk document for one account.
type State struct {
	LastCheck      int64   `json:"lastCheck"`
	LastNotifiedAt int64   `json:"lastNotifiedAt"`
	Seen           []Entry `json:"seen"`
}

// LastCheckTime returns LastCheck as a time, zero if never checked.
func (s State) LastCheckTime() time.Time {
	if s.LastCheck == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastCheck)
}

// LastNotifiedTime returns LastNotifiedAt as a time, zero if never notified.
func (s State) LastNotifiedTime() time.Time {
	if s.LastNotifiedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastNotifiedAt)
}

// Tracker owns the state-<account>.json files.
type Tracker struct {
	Dir   string
	TTL   time.Duration
	Clock func() time.Time
}

// NewTracker returns a tracker with the default TTL.
func NewTracker(dir string) *Tracker {
	return &Tracker{Dir: dir, TTL: DefaultTTL, Clock: time.Now}
}

func (t *Tracker) path(account string) string {
	return config.StateFile(t.Dir, account)
}

func (t *Tracker) now() time.Time {
	if t.Clock == nil {
		return time.Now()
	}
	return t.Clock()
}

func (t *Tracker) ttl() time.Duration {
	if t.TTL <= 0 {
		return DefaultTTL
	}
	return t.TTL
}

// State reads the current state for account. Readers may observe a stale
// view while another invocation writes.
func (t *Tracker) State(account string) State {
	return jsonstore.Read(t.path(account), State{})
}

// GetNew returns the candidates not yet seen, preserving order.
func (t *Tracker) GetNew(account string, candidates []gmail.MessageID) []gmail.MessageID {
	st := t.State(account)
	known := make(map[gmail.MessageID]struct{}, len(st.Seen))
	for _, e := range st.Seen {
		known[e.ID] = struct{}{}
	}
	out := make([]gmail.MessageID, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := known[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// MarkSeen adds ids with the current timestamp and prunes entries older
// than the TTL. The union is idempotent: re-marking an id keeps its first
// timestamp.
func (t *Tracker) MarkSeen(account string, ids []gmail.MessageID) error {
	return t.update(account, func(st State) State {
		now := t.now().UnixMilli()
		index := make(map[gmail.MessageID]struct{}, len(st.Seen)+len(ids))
		for _, e := range st.Seen {
			index[e.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := index[id]; ok {
				continue
			}
			index[id] = struct{}{}
			st.Seen = append(st.Seen, Entry{ID: id, Timestamp: now})
		}
		return st
	})
}

// UpdateLastCheck records the time of a completed check.
func (t *Tracker) UpdateLastCheck(account string) error {
	return t.update(account, func(st State) State {
		st.LastCheck = t.now().UnixMilli()
		return st
	})
}

// UpdateLastNotified records the time notifications were last emitted.
func (t *Tracker) UpdateLastNotified(account string) error {
	return t.update(account, func(st State) State {
		st.LastNotifiedAt = t.now().UnixMilli()
		return st
	})
}

func (t *Tracker) update(account string, fn func(State) State) error {
	err := jsonstore.Update(t.path(account), State{}, func(st State) (State, error) {
		st = fn(st)
		st.Seen = prune(st.Seen, t.now().Add(-t.ttl()).UnixMilli())
		return st, nil
	})
	if err != nil {
		return fault.New(fault.IOError, "update seen state", err)
	}
	return nil
}

func prune(entries []Entry, cutoff int64) []Entry {
	kept := make([]Entry, 0, len(entries))
	dup := make(map[gmail.MessageID]struct{}, len(entries))
	for _, e := range entries {
		if e.Timestamp < cutoff {
			continue
		}
		if _, ok := dup[e.ID]; ok {
			continue
		}
		dup[e.ID] = struct{}{}
		kept = append(kept, e)
	}
	return kept
}
