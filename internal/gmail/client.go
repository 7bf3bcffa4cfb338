package gmail

import (
	"context"
	"encoding/json"

	"github.com/joshsymonds/inboxd/internal/fault"
)

// Client is the narrow Gmail surface required by inboxd. Every call is
// scoped to a linked account by name.
type Client interface {
	List(ctx context.Context, account string, q Query, maxResults int) ([]MessageID, error)
	Get(ctx context.Context, account string, id MessageID, format Format) (Message, error)
	Send(ctx context.Context, account string, raw []byte, threadID string) (MessageID, error)
	Trash(ctx context.Context, account string, id MessageID) error
	Untrash(ctx context.Context, account string, id MessageID) error
	Modify(ctx context.Context, account string, id MessageID, ops ModifyOps) error
	UnreadCount(ctx context.Context, account string) (int, error)
	Profile(ctx context.Context, account string) (Profile, error)
}

// UnreadQuery selects unread inbox mail.
const UnreadQuery = "is:unread in:inbox"

// ListUnread lists unread inbox messages, optionally narrowed by query.
func ListUnread(ctx context.Context, c Client, account, query string, maxResults int) ([]MessageID, error) {
	return c.List(ctx, account, Query{Raw: UnreadQuery}.And(query), maxResults)
}

// Result is the per-id outcome of a batch operation.
type Result struct {
	ID      MessageID
	Success bool
	Noop    bool
	Err     error
}

// Kind returns the failure kind, or fault.Unknown on success.
func (r Result) Kind() fault.Kind {
	if r.Err == nil {
		return fault.Unknown
	}
	return fault.KindOf(r.Err)
}

// MarshalJSON renders {id, success, noop?, error?, kind?}.
func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		ID      MessageID  `json:"id"`
		Success bool       `json:"success"`
		Noop    bool       `json:"noop,omitempty"`
		Error   string     `json:"error,omitempty"`
		Kind    fault.Kind `json:"kind,omitempty"`
	}{ID: r.ID, Success: r.Success, Noop: r.Noop}
	if r.Err != nil {
		out.Error = r.Err.Error()
		out.Kind = r.Kind()
	}
	return json.Marshal(out)
}

// Batch calls fn for each id in order and records a Result per id. It never
// stops early on failure; only context cancellation ends the loop, and the
// remaining ids are reported as failed.
func Batch(ctx context.Context, ids []MessageID, fn func(context.Context, MessageID) error) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{ID: id, Err: err})
			continue
		}
		if err := fn(ctx, id); err != nil {
			results = append(results, Result{ID: id, Err: err})
			continue
		}
		results = append(results, Result{ID: id, Success: true})
	}
	return results
}

// Failed counts unsuccessful results.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
