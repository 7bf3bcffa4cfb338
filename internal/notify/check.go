// Package notify implements the background check: list new unread mail,
// auto-apply rules, and emit desktop notifications for the rest.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/joshsymonds/inboxd/internal/actions"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/rules"
	"github.com/joshsymonds/inboxd/internal/seen"
)

const (
	// DefaultThrottle suppresses notifications sent closer together than this.
	DefaultThrottle = 30 * time.Second
	// DefaultMaxResults bounds the unread listing per account.
	DefaultMaxResults = 50
)

// Notification is one new-mail alert.
type Notification struct {
	Account string          `json:"account"`
	ID      gmail.MessageID `json:"id"`
	From    string          `json:"from"`
	Subject string          `json:"subject"`
	Snippet string          `json:"snippet"`
}

// Notifier delivers a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Forwarder applies a rule's action. *actions.Engine satisfies it.
type Forwarder interface {
	Forward(ctx context.Context, op actions.Op, account string, ids []gmail.MessageID) ([]gmail.Result, error)
}

// RuleLister supplies the current rules. *rules.Store satisfies it.
type RuleLister interface {
	List() []rules.Rule
}

// Applied records a rule fired during a check.
type Applied struct {
	ID     gmail.MessageID `json:"id"`
	RuleID string          `json:"ruleId"`
	Action rules.Action    `json:"action"`
}

// AccountReport summarises one account's check.
type AccountReport struct {
	Account   string            `json:"account"`
	Unread    int               `json:"unread"`
	New       int               `json:"new"`
	Notified  []gmail.MessageID `json:"notified"`
	Applied   []Applied         `json:"applied"`
	Throttled int               `json:"throttled"`
	Error     string            `json:"error,omitempty"`
}

// Checker runs the notification check across accounts.
type Checker struct {
	Client     gmail.Client
	Seen       *seen.Tracker
	Rules      RuleLister
	Engine     Forwarder
	Notifier   Notifier
	Logger     *slog.Logger
	Throttle   time.Duration
	MaxResults int
	Clock      func() time.Time
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Checker) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

// Check processes each account in order. A failing account is logged and
// reported; the remaining accounts are still checked.
func (c *Checker) Check(ctx context.Context, accounts []string) []AccountReport {
	out := make([]AccountReport, 0, len(accounts))
	for _, acct := range accounts {
		if ctx.Err() != nil {
			out = append(out, AccountReport{Account: acct, Error: ctx.Err().Error()})
			continue
		}
		rep, err := c.checkAccount(ctx, acct)
		if err != nil {
			c.logger().Error("check failed", slog.String("account", acct), slog.Any("error", err))
			rep.Error = err.Error()
		}
		out = append(out, rep)
	}
	return out
}

func (c *Checker) checkAccount(ctx context.Context, acct string) (AccountReport, error) {
	rep := AccountReport{Account: acct, Notified: []gmail.MessageID{}, Applied: []Applied{}}
	limit := c.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	unread, err := gmail.ListUnread(ctx, c.Client, acct, "", limit)
	if err != nil {
		return rep, err
	}
	rep.Unread = len(unread)
	fresh := c.Seen.GetNew(acct, unread)
	rep.New = len(fresh)

	var ruleSet []rules.Rule
	if c.Rules != nil {
		ruleSet = c.Rules.List()
	}
	var handled []gmail.MessageID
	var pending []Notification
	for _, id := range fresh {
		msg, err := c.Client.Get(ctx, acct, id, gmail.FormatMetadata)
		if err != nil {
			c.logger().Warn("fetch new message", slog.String("account", acct), slog.String("id", string(id)), slog.Any("error", err))
			continue
		}
		if rule, ok := rules.Evaluate(ruleSet, msg); ok && c.Engine != nil {
			if c.applyRule(ctx, acct, id, rule) {
				handled = append(handled, id)
				rep.Applied = append(rep.Applied, Applied{ID: id, RuleID: rule.ID, Action: rule.Action})
				continue
			}
		}
		pending = append(pending, Notification{
			Account: acct,
			ID:      id,
			From:    msg.From(),
			Subject: msg.Subject(),
			Snippet: msg.Snippet,
		})
	}

	if len(pending) > 0 {
		throttle := c.Throttle
		if throttle <= 0 {
			throttle = DefaultThrottle
		}
		last := c.Seen.State(acct).LastNotifiedTime()
		if !last.IsZero() && c.now().Sub(last) < throttle {
			rep.Throttled = len(pending)
			c.logger().Info("notifications throttled", slog.String("account", acct), slog.Int("count", len(pending)))
		} else {
			notified := c.deliver(ctx, pending)
			if len(notified) > 0 {
				if err := c.Seen.UpdateLastNotified(acct); err != nil {
					return rep, err
				}
			}
			handled = append(handled, notified...)
			rep.Notified = append(rep.Notified, notified...)
		}
	}

	if err := c.Seen.MarkSeen(acct, handled); err != nil {
		return rep, err
	}
	if err := c.Seen.UpdateLastCheck(acct); err != nil {
		return rep, err
	}
	return rep, nil
}

func (c *Checker) applyRule(ctx context.Context, acct string, id gmail.MessageID, rule rules.Rule) bool {
	op, ok := rule.Action.Op()
	if !ok {
		return false
	}
	results, err := c.Engine.Forward(ctx, op, acct, []gmail.MessageID{id})
	if err != nil || len(results) != 1 || !results[0].Success {
		c.logger().Warn("rule not applied",
			slog.String("account", acct),
			slog.String("id", string(id)),
			slog.String("rule", rule.ID),
			slog.Any("error", firstErr(err, results)))
		return false
	}
	c.logger().Info("rule applied", slog.String("account", acct), slog.String("id", string(id)), slog.String("action", string(rule.Action)))
	return true
}

func firstErr(err error, results []gmail.Result) error {
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func (c *Checker) deliver(ctx context.Context, pending []Notification) []gmail.MessageID {
	var ok []gmail.MessageID
	for _, n := range pending {
		if c.Notifier != nil {
			if err := c.Notifier.Notify(ctx, n); err != nil {
				c.logger().Warn("notify", slog.String("account", n.Account), slog.String("id", string(n.ID)), slog.Any("error", err))
				continue
			}
		}
		ok = append(ok, n.ID)
	}
	return ok
}
