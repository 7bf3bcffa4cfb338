package auditlog

import (
	"path/filepath"
	"time"

	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/jsonstore"
)

const bodyPreviewLimit = 200

// SentEntry records an outgoing message.
type SentEntry struct {
	SentAt      time.Time       `json:"sentAt"`
	Account     string          `json:"account"`
	To          string          `json:"to"`
	Subject     string          `json:"subject"`
	BodyPreview string          `json:"bodyPreview"`
	MessageID   gmail.MessageID `json:"messageId,omitempty"`
}

// Preview truncates body for the sent log.
func Preview(body string) string {
	runes := []rune(body)
	if len(runes) <= bodyPreviewLimit {
		return body
	}
	return string(runes[:bodyPreviewLimit]) + "…"
}

// SentLog is the append-only record of sent mail.
type SentLog struct {
	path  string
	Clock func() time.Time
}

// OpenSent returns the sent log under dir.
func OpenSent(dir string) *SentLog {
	return &SentLog{path: filepath.Join(dir, config.SentLogFile), Clock: time.Now}
}

// Append adds entries to the end of the log.
func (l *SentLog) Append(entries ...SentEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := jsonstore.Update(l.path, []SentEntry{}, func(existing []SentEntry) ([]SentEntry, error) {
		return append(existing, entries...), nil
	})
	if err != nil {
		return fault.New(fault.IOError, "append sent log", err)
	}
	return nil
}

// List returns entries from the last sinceDays days, or all when
// sinceDays <= 0.
func (l *SentLog) List(sinceDays int) []SentEntry {
	entries := jsonstore.Read(l.path, []SentEntry{})
	if sinceDays <= 0 {
		return entries
	}
	now := time.Now
	if l.Clock != nil {
		now = l.Clock
	}
	cutoff := now().Add(-time.Duration(sinceDays) * 24 * time.Hour)
	out := entries[:0]
	for _, e := range entries {
		if !e.SentAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}
