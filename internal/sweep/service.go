// Package sweep archives unread inbox mail that has sat untouched past a
// grace period. Every swept message goes through the reversible-action
// engine, so a sweep is undone with `inboxd unarchive`.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joshsymonds/inboxd/internal/actions"
	"github.com/joshsymonds/inboxd/internal/analyze"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

const (
	// DefaultGrace is how long unread mail may sit in the inbox.
	DefaultGrace = 48 * time.Hour
	// DefaultLimit bounds how many messages one sweep considers.
	DefaultLimit = 500
)

// SkipWeekend is the Report.Skipped reason when PauseWeekends applies.
const SkipWeekend = "weekend"

// Spec describes one sweep over an account.
type Spec struct {
	Label         string        // optional: restrict sweep to this label
	Grace         time.Duration // how long to wait before sweeping
	ExcludeLabels []string
	Limit         int
	DryRun        bool
	PauseWeekends bool
}

// Archiver is the engine surface a sweep needs; *actions.Engine satisfies it.
type Archiver interface {
	ForwardMessages(ctx context.Context, o actions.Op, account string, msgs []gmail.Message) ([]gmail.Result, error)
}

// Service plans and applies sweeps.
type Service struct {
	Client gmail.Client
	Engine Archiver
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewService constructs a Service archiving through engine.
func NewService(engine *actions.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Client: engine.Client,
		Engine: engine,
		Logger: logger,
		Clock:  time.Now,
	}
}

// Report is the outcome of planning, and then applying, one sweep.
type Report struct {
	Account    string          `json:"account"`
	Label      string          `json:"label,omitempty"`
	Grace      time.Duration   `json:"grace"`
	Cutoff     time.Time       `json:"cutoff"`
	Query      string          `json:"query"`
	Skipped    string          `json:"skipped,omitempty"`
	DryRun     bool            `json:"dryRun,omitempty"`
	Candidates []gmail.Message `json:"candidates"`
	Results    []gmail.Result  `json:"results,omitempty"`
}

// ParseGraceMap parses "label=duration" pairs separated by commas.
// Durations accept a day suffix, e.g. "alerts=2h,newsletters=3d".
func ParseGraceMap(s string) (map[string]time.Duration, error) {
	out := map[string]time.Duration{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, raw, ok := strings.Cut(part, "=")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, fmt.Errorf("grace entry %q: want label=duration", part)
		}
		d, err := analyze.ParseAge(raw)
		if err != nil {
			return nil, fmt.Errorf("grace for %s: %w", label, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("grace for %s must be positive", label)
		}
		out[label] = d
	}
	return out, nil
}

// Specs expands base and per-label overrides into the sweeps to run. The
// base sweep excludes the overridden labels so each message is judged by
// its own grace period. Override sweeps follow in label order.
func Specs(base Spec, overrides map[string]time.Duration) []Spec {
	if base.Label != "" || len(overrides) == 0 {
		return []Spec{base}
	}
	labels := make([]string, 0, len(overrides))
	for l := range overrides {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	first := base
	first.ExcludeLabels = append(append([]string(nil), base.ExcludeLabels...), labels...)
	out := []Spec{first}
	for _, l := range labels {
		s := base
		s.Label = l
		s.Grace = overrides[l]
		out = append(out, s)
	}
	return out
}

// Query builds the Gmail search for messages older than cutoff. Starred
// and important mail is never swept.
func Query(spec Spec, cutoff time.Time) gmail.Query {
	parts := []string{"in:inbox", "is:unread", fmt.Sprintf("before:%d", cutoff.Unix()), "-is:starred", "-is:important"}
	for _, l := range spec.ExcludeLabels {
		parts = append(parts, fmt.Sprintf(`-label:"%s"`, l))
	}
	if spec.Label != "" {
		parts = append([]string{fmt.Sprintf(`label:"%s"`, spec.Label)}, parts...)
	}
	return gmail.Query{Raw: strings.Join(parts, " ")}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Plan lists the messages a sweep would archive. It never mutates.
func (s *Service) Plan(ctx context.Context, account string, spec Spec) (Report, error) {
	now := s.now()
	grace := spec.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	cutoff := now.Add(-grace)
	q := Query(spec, cutoff)
	rep := Report{
		Account:    account,
		Label:      spec.Label,
		Grace:      grace,
		Cutoff:     cutoff.UTC(),
		Query:      q.Raw,
		DryRun:     spec.DryRun,
		Candidates: []gmail.Message{},
	}
	if spec.PauseWeekends {
		if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
			rep.Skipped = SkipWeekend
			s.logger().Info("sweep paused for the weekend", slog.String("account", account))
			return rep, nil
		}
	}

	limit := spec.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	ids, err := s.Client.List(ctx, account, q, limit)
	if err != nil {
		return Report{}, fmt.Errorf("list sweep candidates: %w", err)
	}
	for _, id := range ids {
		msg, err := s.Client.Get(ctx, account, id, gmail.FormatMetadata)
		if err != nil {
			if ctx.Err() != nil {
				return Report{}, ctx.Err()
			}
			s.logger().Debug("skip sweep candidate", slog.String("id", string(id)), slog.Any("error", err))
			continue
		}
		if msg.ID == "" {
			msg.ID = id
		}
		if !sweepable(msg, cutoff) {
			continue
		}
		rep.Candidates = append(rep.Candidates, msg)
	}
	return rep, nil
}

// sweepable re-checks locally what the query asked the provider for.
func sweepable(msg gmail.Message, cutoff time.Time) bool {
	if msg.HasLabel(gmail.LabelStarred) || msg.HasLabel(gmail.LabelImportant) {
		return false
	}
	if !msg.HasLabel(gmail.LabelInbox) || !msg.HasLabel(gmail.LabelUnread) {
		return false
	}
	return msg.Date.IsZero() || msg.Date.Before(cutoff)
}

// Apply archives the planned candidates through the engine. Dry runs and
// skipped sweeps are returned unchanged.
func (s *Service) Apply(ctx context.Context, rep Report) (Report, error) {
	if rep.DryRun || rep.Skipped != "" || len(rep.Candidates) == 0 {
		return rep, nil
	}
	results, err := s.Engine.ForwardMessages(ctx, actions.Archive, rep.Account, rep.Candidates)
	if err != nil {
		return rep, fmt.Errorf("archive swept messages: %w", err)
	}
	rep.Results = results
	s.logger().Info("swept",
		slog.String("account", rep.Account),
		slog.String("label", rep.Label),
		slog.Duration("grace", rep.Grace),
		slog.Int("count", len(results)),
		slog.Int("failed", gmail.Failed(results)))
	return rep, nil
}

// Run plans and applies one sweep.
func (s *Service) Run(ctx context.Context, account string, spec Spec) (Report, error) {
	rep, err := s.Plan(ctx, account, spec)
	if err != nil {
		return Report{}, err
	}
	return s.Apply(ctx, rep)
}
