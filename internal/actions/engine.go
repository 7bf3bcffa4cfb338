package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/inboxd/internal/auditlog"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

// Engine runs reversible operations against a provider client and keeps
// the audit logs in step with the remote state.
type Engine struct {
	Client    gmail.Client
	Deletions *auditlog.Log
	Archives  *auditlog.Log
	Logger    *slog.Logger
	Clock     func() time.Time
}

// NewEngine wires an engine to the audit logs under dir.
func NewEngine(client gmail.Client, dir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Client:    client,
		Deletions: auditlog.Open(dir, auditlog.Deletions),
		Archives:  auditlog.Open(dir, auditlog.Archives),
		Logger:    logger,
		Clock:     time.Now,
	}
}

// Selection picks audit entries to reverse: explicit ids, or the Last n
// entries by timestamp. Account narrows Last and is used for explicit ids
// that have no entry.
type Selection struct {
	IDs     []gmail.MessageID
	Last    int
	Account string
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock()
}

func (e *Engine) auditLog(o Op) *auditlog.Log {
	kind, ok := AuditLogFor(o)
	if !ok {
		return nil
	}
	if kind == auditlog.Archives {
		return e.Archives
	}
	return e.Deletions
}

// Forward applies a forward operation to ids on account. Delete and
// Archive resolve each id, record the resolvable ones in the audit log in
// one write, then mutate. Results are in input order. The returned error
// is set only when nothing was mutated.
func (e *Engine) Forward(ctx context.Context, o Op, account string, ids []gmail.MessageID) ([]gmail.Result, error) {
	if !o.Forward() {
		return nil, fmt.Errorf("%s is not a forward operation", o)
	}
	ids = dedupe(ids)
	if e.auditLog(o) == nil {
		return gmail.Batch(ctx, ids, func(ctx context.Context, id gmail.MessageID) error {
			return apply(ctx, e.Client, o, account, id)
		}), nil
	}

	resolved := make([]gmail.Message, 0, len(ids))
	failed := map[gmail.MessageID]gmail.Result{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			failed[id] = gmail.Result{ID: id, Err: err}
			continue
		}
		msg, err := e.Client.Get(ctx, account, id, gmail.FormatMetadata)
		if err != nil {
			e.logger().Warn("resolve failed", slog.String("account", account), slog.String("id", string(id)), slog.Any("error", err))
			failed[id] = gmail.Result{ID: id, Err: fmt.Errorf("resolve %s: %w", id, err)}
			continue
		}
		if msg.ID == "" {
			msg.ID = id
		}
		resolved = append(resolved, msg)
	}

	applied, err := e.forwardResolved(ctx, o, account, resolved)
	if err != nil {
		return nil, err
	}
	byID := make(map[gmail.MessageID]gmail.Result, len(applied))
	for _, r := range applied {
		byID[r.ID] = r
	}
	results := make([]gmail.Result, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			results = append(results, r)
			continue
		}
		results = append(results, failed[id])
	}
	return results, nil
}

// ForwardMessages runs the forward contract over messages whose metadata
// was already fetched, skipping the resolve step. Results are in input
// order.
func (e *Engine) ForwardMessages(ctx context.Context, o Op, account string, msgs []gmail.Message) ([]gmail.Result, error) {
	if !o.Forward() {
		return nil, fmt.Errorf("%s is not a forward operation", o)
	}
	return e.forwardResolved(ctx, o, account, msgs)
}

// forwardResolved runs append, apply and reconcile over messages whose
// metadata is already known.
func (e *Engine) forwardResolved(ctx context.Context, o Op, account string, msgs []gmail.Message) ([]gmail.Result, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	log := e.auditLog(o)
	ids := make([]gmail.MessageID, 0, len(msgs))
	if log != nil {
		at := e.now()
		entries := make([]auditlog.Entry, 0, len(msgs))
		for _, m := range msgs {
			entries = append(entries, auditlog.EntryFor(account, m, at))
			ids = append(ids, m.ID)
		}
		if err := log.Append(entries); err != nil {
			return nil, err
		}
	} else {
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
	}

	results := gmail.Batch(ctx, ids, func(ctx context.Context, id gmail.MessageID) error {
		return apply(ctx, e.Client, o, account, id)
	})

	if log != nil {
		var drop []gmail.MessageID
		for _, r := range results {
			if !r.Success && definitelyNotApplied(r.Err) {
				drop = append(drop, r.ID)
			}
		}
		if len(drop) > 0 {
			if _, err := log.RemoveByIDs(drop); err != nil {
				e.logger().Warn("reconcile audit log", slog.String("log", log.Kind().String()), slog.Any("error", err))
			}
		}
	}
	e.logger().Info(o.String(), slog.String("account", account), slog.Int("count", len(ids)), slog.Int("failed", gmail.Failed(results)))
	return results, nil
}

// definitelyNotApplied separates terminal provider refusals from outcomes
// where the remote state is unknown (retryable faults, cancellation), whose
// entries stay in the log so a later reverse can clean them up.
func definitelyNotApplied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !fault.KindOf(err).Retryable()
}

// Reverse undoes audited operations. o is the reverse half of a pair
// (Restore or Unarchive). Entries whose inverse succeeded, or whose
// message no longer exists, are removed from the log; failures keep their
// entry for a retry.
func (e *Engine) Reverse(ctx context.Context, o Op, sel Selection) ([]gmail.Result, error) {
	if o.Forward() {
		return nil, fmt.Errorf("%s is not a reverse operation", o)
	}
	log := e.auditLog(o)
	if log == nil {
		if sel.Account == "" {
			return nil, fmt.Errorf("%s requires an account", o)
		}
		return gmail.Batch(ctx, dedupe(sel.IDs), func(ctx context.Context, id gmail.MessageID) error {
			return apply(ctx, e.Client, o, sel.Account, id)
		}), nil
	}

	type target struct {
		id      gmail.MessageID
		account string
		logged  bool
	}
	var targets []target
	switch {
	case len(sel.IDs) > 0:
		found := map[gmail.MessageID]auditlog.Entry{}
		for _, en := range log.Find(sel.IDs) {
			found[en.ID] = en
		}
		for _, id := range dedupe(sel.IDs) {
			en, ok := found[id]
			switch {
			case ok && (sel.Account == "" || en.Account == sel.Account):
				targets = append(targets, target{id: id, account: en.Account, logged: true})
			default:
				targets = append(targets, target{id: id, account: sel.Account})
			}
		}
	case sel.Last > 0:
		for _, en := range lastFor(log, sel.Account, sel.Last) {
			targets = append(targets, target{id: en.ID, account: en.Account, logged: true})
		}
	default:
		return nil, errors.New("no ids or --last given")
	}

	results := make([]gmail.Result, 0, len(targets))
	var done []gmail.MessageID
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			results = append(results, gmail.Result{ID: t.id, Err: err})
			continue
		}
		if t.account == "" {
			results = append(results, gmail.Result{
				ID:  t.id,
				Err: fault.Newf(fault.NotFound, o.String(), "%s is not in the %s log", t.id, log.Kind()),
			})
			continue
		}
		err := apply(ctx, e.Client, o, t.account, t.id)
		switch {
		case err == nil:
			results = append(results, gmail.Result{ID: t.id, Success: true})
		case fault.Is(err, fault.NotFound):
			results = append(results, gmail.Result{ID: t.id, Success: true, Noop: true})
		default:
			results = append(results, gmail.Result{ID: t.id, Err: err})
			continue
		}
		if t.logged {
			done = append(done, t.id)
		}
	}
	if len(done) > 0 {
		if _, err := log.RemoveByIDs(done); err != nil {
			return results, err
		}
	}
	e.logger().Info(o.String(), slog.Int("count", len(targets)), slog.Int("failed", gmail.Failed(results)))
	return results, nil
}

func lastFor(log *auditlog.Log, account string, n int) []auditlog.Entry {
	if account == "" {
		return log.Last(n)
	}
	var out []auditlog.Entry
	for _, en := range log.Last(-1) {
		if en.Account != account {
			continue
		}
		out = append(out, en)
		if len(out) == n {
			break
		}
	}
	return out
}

func dedupe(ids []gmail.MessageID) []gmail.MessageID {
	seen := make(map[gmail.MessageID]struct{}, len(ids))
	out := make([]gmail.MessageID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
