package auditlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/jsonstore"
)

// MaxUsageLines caps usage-log.jsonl.
const MaxUsageLines = 10000

// UsageEntry is one command invocation.
type UsageEntry struct {
	TS      time.Time `json:"ts"`
	Cmd     string    `json:"cmd"`
	Flags   []string  `json:"flags"`
	Account string    `json:"account,omitempty"`
	Success bool      `json:"success"`
}

// UsageLog is the rotating JSON-lines usage telemetry file.
type UsageLog struct {
	path     string
	Max      int
	Disabled bool
}

// OpenUsage returns the usage log under dir, disabled when
// INBOXD_NO_ANALYTICS=1.
func OpenUsage(dir string) *UsageLog {
	return &UsageLog{
		path:     filepath.Join(dir, config.UsageLogFile),
		Max:      MaxUsageLines,
		Disabled: config.AnalyticsDisabled(os.Getenv),
	}
}

// Path is the backing file.
func (u *UsageLog) Path() string { return u.path }

// Log appends e and drops the oldest lines beyond the cap.
func (u *UsageLog) Log(e UsageEntry) error {
	if u.Disabled {
		return nil
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if e.Flags == nil {
		e.Flags = []string{}
	}
	unlock, err := jsonstore.Lock(u.path)
	if err != nil {
		return fault.New(fault.IOError, "usage log", err)
	}
	defer unlock()

	if err := jsonstore.AppendLines(u.path, e); err != nil {
		return fault.New(fault.IOError, "usage log", err)
	}
	lines, err := jsonstore.ReadLines(u.path)
	if err != nil {
		return fault.New(fault.IOError, "usage log", err)
	}
	limit := u.Max
	if limit <= 0 {
		limit = MaxUsageLines
	}
	if len(lines) <= limit {
		return nil
	}
	if err := jsonstore.WriteLines(u.path, lines[len(lines)-limit:]); err != nil {
		return fault.New(fault.IOError, "usage log", err)
	}
	return nil
}

// List decodes every usage entry; malformed lines are skipped.
func (u *UsageLog) List() ([]UsageEntry, error) {
	lines, err := jsonstore.ReadLines(u.path)
	if err != nil {
		return nil, fault.New(fault.IOError, "usage log", err)
	}
	out := make([]UsageEntry, 0, len(lines))
	for _, line := range lines {
		var e UsageEntry
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
