package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

const (
	// MinPatternLen is the shortest sender or subject pattern accepted
	// without --force.
	MinPatternLen = 3
	// MaxSafeBatch is the largest candidate set accepted without --force.
	MaxSafeBatch = 100
	// DefaultFilterLimit bounds candidate fetches when no limit is given.
	DefaultFilterLimit = 500
)

const (
	WarnShortPattern = "short pattern may match broadly"
	WarnLargeBatch   = "large batch"
)

// ErrNoFilter is returned when a pattern operation has nothing to match on.
var ErrNoFilter = errors.New("no --sender, --match or query given")

// Filter selects messages by pattern instead of by id.
type Filter struct {
	Sender  string
	Subject string
	Query   string
	Limit   int
	DryRun  bool
	Force   bool
}

// Plan is the preview of a pattern operation.
type Plan struct {
	Op         Op              `json:"-"`
	Account    string          `json:"account"`
	Query      string          `json:"query"`
	Candidates []gmail.Message `json:"candidates"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// IDs lists the candidate ids in fetch order.
func (p Plan) IDs() []gmail.MessageID {
	out := make([]gmail.MessageID, len(p.Candidates))
	for i, m := range p.Candidates {
		out[i] = m.ID
	}
	return out
}

// ConfirmFunc approves a plan before any audit write. Returning an error
// aborts the operation.
type ConfirmFunc func(Plan) error

func baseQuery(o Op) string {
	switch o {
	case Archive:
		return "in:inbox"
	case MarkRead:
		return "is:unread"
	case MarkUnread:
		return "is:read"
	default:
		return ""
	}
}

// Plan fetches candidate messages for a pattern operation and evaluates the
// safety guards. It never mutates anything. Sender and subject patterns are
// substrings matched locally; provider search operators match whole words
// and would miss them, so only the base query and f.Query go to List.
func (e *Engine) Plan(ctx context.Context, o Op, account string, f Filter) (Plan, error) {
	sender := strings.TrimSpace(f.Sender)
	subject := strings.TrimSpace(f.Subject)
	if sender == "" && subject == "" && strings.TrimSpace(f.Query) == "" {
		return Plan{}, ErrNoFilter
	}
	q := gmail.Query{Raw: baseQuery(o)}.And(f.Query)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultFilterLimit
	}
	ids, err := e.Client.List(ctx, account, q, limit)
	if err != nil {
		return Plan{}, fmt.Errorf("list candidates: %w", err)
	}

	plan := Plan{Op: o, Account: account, Query: q.Raw}
	lowSender, lowSubject := strings.ToLower(sender), strings.ToLower(subject)
	for _, id := range ids {
		msg, err := e.Client.Get(ctx, account, id, gmail.FormatMetadata)
		if err != nil {
			if ctx.Err() != nil {
				return Plan{}, ctx.Err()
			}
			e.logger().Debug("skip candidate", slog.String("id", string(id)), slog.Any("error", err))
			continue
		}
		if msg.ID == "" {
			msg.ID = id
		}
		if lowSender != "" && !strings.Contains(strings.ToLower(msg.From()), lowSender) {
			continue
		}
		if lowSubject != "" && !strings.Contains(strings.ToLower(msg.Subject()), lowSubject) {
			continue
		}
		plan.Candidates = append(plan.Candidates, msg)
	}

	if len(plan.Candidates) > 0 {
		if (sender != "" && len([]rune(sender)) < MinPatternLen) || (subject != "" && len([]rune(subject)) < MinPatternLen) {
			plan.Warnings = append(plan.Warnings, WarnShortPattern)
		}
		if len(plan.Candidates) > MaxSafeBatch {
			plan.Warnings = append(plan.Warnings, WarnLargeBatch)
		}
	}
	return plan, nil
}

// ApplyFilter plans a pattern operation and, unless it is a dry run, runs
// the forward contract over the candidates. Warnings abort with
// fault.UnsafeBatch unless f.Force is set. confirm may be nil.
func (e *Engine) ApplyFilter(ctx context.Context, o Op, account string, f Filter, confirm ConfirmFunc) (Plan, []gmail.Result, error) {
	if !o.Forward() && o != MarkUnread {
		return Plan{}, nil, fmt.Errorf("%s does not accept a pattern", o)
	}
	plan, err := e.Plan(ctx, o, account, f)
	if err != nil {
		return Plan{}, nil, err
	}
	if f.DryRun || len(plan.Candidates) == 0 {
		return plan, nil, nil
	}
	if len(plan.Warnings) > 0 && !f.Force {
		return plan, nil, fault.Newf(fault.UnsafeBatch, o.String(), "%s (use --force to proceed)", strings.Join(plan.Warnings, "; "))
	}
	if confirm != nil {
		if err := confirm(plan); err != nil {
			return plan, nil, err
		}
	}
	if o == MarkUnread {
		results := gmail.Batch(ctx, plan.IDs(), func(ctx context.Context, id gmail.MessageID) error {
			return apply(ctx, e.Client, o, account, id)
		})
		return plan, results, nil
	}
	results, err := e.forwardResolved(ctx, o, account, plan.Candidates)
	return plan, results, err
}
