// Package analyze builds a JSON-friendly inventory of a mailbox, optionally
// grouped by sender or thread.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/mailaddr"
)

const (
	// DefaultCount is how many messages are inventoried when none is given.
	DefaultCount = 100
	// DefaultQuery scopes the inventory to the inbox.
	DefaultQuery = "in:inbox"
)

// GroupBy selects how messages are aggregated.
type GroupBy string

const (
	GroupNone   GroupBy = ""
	GroupSender GroupBy = "sender"
	GroupThread GroupBy = "thread"
)

// ParseGroupBy validates a --group-by value.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupNone, GroupSender, GroupThread:
		return g, nil
	default:
		return "", fmt.Errorf("unknown group-by %q (want sender or thread)", s)
	}
}

// ParseAge accepts Go durations plus a day suffix, e.g. "30d" or "12h".
func ParseAge(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(trimmed, "d"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(days), 64)
		if err != nil {
			return 0, fmt.Errorf("parse age %q: %w", value, err)
		}
		if n < 0 {
			return 0, errors.New("age must be positive")
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse age %q: %w", value, err)
	}
	if dur < 0 {
		return 0, errors.New("age must be positive")
	}
	return dur, nil
}

// Options controls an inventory run.
type Options struct {
	Count     int
	GroupBy   GroupBy
	OlderThan time.Duration
	Query     string
}

// Item is one inventoried message.
type Item struct {
	ID       gmail.MessageID `json:"id"`
	ThreadID string          `json:"threadId"`
	From     string          `json:"from"`
	Sender   string          `json:"sender"`
	Subject  string          `json:"subject"`
	Snippet  string          `json:"snippet"`
	Date     time.Time       `json:"date"`
	Unread   bool            `json:"unread"`
	ListID   string          `json:"listId,omitempty"`
	Labels   []gmail.LabelID `json:"labels,omitempty"`
}

// Group aggregates items sharing a sender or thread.
type Group struct {
	Key     string            `json:"key"`
	Count   int               `json:"count"`
	Unread  int               `json:"unread"`
	Subject string            `json:"subject"`
	Latest  time.Time         `json:"latest"`
	IDs     []gmail.MessageID `json:"ids"`
}

// Inventory is the result of a run.
type Inventory struct {
	Account     string    `json:"account"`
	GeneratedAt time.Time `json:"generatedAt"`
	Query       string    `json:"query"`
	Total       int       `json:"total"`
	GroupBy     GroupBy   `json:"groupBy,omitempty"`
	Messages    []Item    `json:"messages,omitempty"`
	Groups      []Group   `json:"groups,omitempty"`
	// Raw keeps the fetched metadata for callers that feed it to stats.
	Raw []gmail.Message `json:"-"`
}

// Service inventories mailboxes through a provider client.
type Service struct {
	Client gmail.Client
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewService constructs a Service with defaults.
func NewService(client gmail.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Client: client, Logger: logger, Clock: time.Now}
}

func (s *Service) query(opts Options) gmail.Query {
	base := strings.TrimSpace(opts.Query)
	if base == "" {
		base = DefaultQuery
	}
	q := gmail.Query{Raw: base}
	if opts.OlderThan > 0 {
		q = q.And(fmt.Sprintf("before:%d", s.Clock().Add(-opts.OlderThan).Unix()))
	}
	return q
}

// Run lists up to opts.Count messages and fetches their metadata. Messages
// whose metadata cannot be read are skipped with a warning.
func (s *Service) Run(ctx context.Context, account string, opts Options) (Inventory, error) {
	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}
	q := s.query(opts)
	s.Logger.DebugContext(ctx, "inventory", slog.String("account", account), slog.String("query", q.Raw), slog.Int("count", count))

	ids, err := s.Client.List(ctx, account, q, count)
	if err != nil {
		return Inventory{}, fmt.Errorf("list messages: %w", err)
	}
	inv := Inventory{Account: account, GeneratedAt: s.Clock().UTC(), Query: q.Raw, GroupBy: opts.GroupBy}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		msg, err := s.Client.Get(ctx, account, id, gmail.FormatMetadata)
		if err != nil {
			if ctx.Err() != nil {
				return Inventory{}, ctx.Err()
			}
			s.Logger.WarnContext(ctx, "skip message", slog.String("id", string(id)), slog.Any("error", err))
			continue
		}
		if msg.ID == "" {
			msg.ID = id
		}
		inv.Raw = append(inv.Raw, msg)
		items = append(items, itemOf(msg))
	}
	inv.Total = len(items)
	if opts.GroupBy == GroupNone {
		inv.Messages = items
		return inv, nil
	}
	inv.Groups = groupItems(items, opts.GroupBy)
	return inv, nil
}

func itemOf(m gmail.Message) Item {
	return Item{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		From:     m.From(),
		Sender:   mailaddr.Email(m.From()),
		Subject:  m.Subject(),
		Snippet:  m.Snippet,
		Date:     m.Date,
		Unread:   m.HasLabel(gmail.LabelUnread),
		ListID:   mailaddr.ListID(m.Header("List-Id")),
		Labels:   m.LabelIDs,
	}
}

func groupItems(items []Item, by GroupBy) []Group {
	groups := map[string]*Group{}
	var order []string
	for _, it := range items {
		key := it.Sender
		if by == GroupThread {
			key = it.ThreadID
		}
		if key == "" {
			key = "(unknown)"
		}
		g, ok := groups[key]
		if !ok {
			g = &Group{Key: key, Subject: it.Subject}
			groups[key] = g
			order = append(order, key)
		}
		g.Count++
		if it.Unread {
			g.Unread++
		}
		if it.Date.After(g.Latest) {
			g.Latest = it.Date
		}
		g.IDs = append(g.IDs, it.ID)
	}
	out := make([]Group, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
