// Package gmailtest provides an in-memory gmail.Client for tests.
package gmailtest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

// Call records one mutating provider call.
type Call struct {
	Method  string
	Account string
	ID      gmail.MessageID
}

// Sent records one Send call.
type Sent struct {
	Account  string
	Raw      []byte
	ThreadID string
	ID       gmail.MessageID
}

// Mailbox is a fake provider holding messages per account. Labels follow
// Gmail's system labels: trashed messages carry TRASH, archived ones lack
// INBOX, read ones lack UNREAD.
type Mailbox struct {
	mu       sync.Mutex
	accounts map[string]*account
	nextID   int

	// GetErr and MutateErr inject per-id failures.
	GetErr    map[gmail.MessageID]error
	MutateErr map[gmail.MessageID]error

	Calls []Call
	Sent  []Sent
}

type account struct {
	order []gmail.MessageID
	msgs  map[gmail.MessageID]*gmail.Message
}

// New returns an empty mailbox.
func New() *Mailbox {
	return &Mailbox{
		accounts:  map[string]*account{},
		GetErr:    map[gmail.MessageID]error{},
		MutateErr: map[gmail.MessageID]error{},
	}
}

// Add stores msg under account. Missing ThreadID defaults to "t-"+ID.
func (m *Mailbox) Add(acct string, msg gmail.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(acct)
	if msg.ThreadID == "" {
		msg.ThreadID = "t-" + string(msg.ID)
	}
	if _, exists := a.msgs[msg.ID]; !exists {
		a.order = append(a.order, msg.ID)
	}
	cp := msg
	cp.LabelIDs = append([]gmail.LabelID(nil), msg.LabelIDs...)
	a.msgs[msg.ID] = &cp
}

// AddUnread stores an unread inbox message with From and Subject headers.
func (m *Mailbox) AddUnread(acct string, id gmail.MessageID, from, subject string) {
	m.Add(acct, gmail.Message{
		ID:       id,
		LabelIDs: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread},
		Headers:  map[string]string{"From": from, "Subject": subject},
		Snippet:  "snippet of " + string(id),
		Date:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

// Purge removes a message entirely, as if the trash had been emptied.
func (m *Mailbox) Purge(acct string, id gmail.MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(acct)
	delete(a.msgs, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Message returns a copy of the stored message.
func (m *Mailbox) Message(acct string, id gmail.MessageID) (gmail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.account(acct).msgs[id]
	if !ok {
		return gmail.Message{}, false
	}
	return *msg, true
}

// HasLabel reports whether the stored message carries label.
func (m *Mailbox) HasLabel(acct string, id gmail.MessageID, label gmail.LabelID) bool {
	msg, ok := m.Message(acct, id)
	return ok && msg.HasLabel(label)
}

// CallCount counts recorded calls to method.
func (m *Mailbox) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Mailbox) account(name string) *account {
	a, ok := m.accounts[name]
	if !ok {
		a = &account{msgs: map[gmail.MessageID]*gmail.Message{}}
		m.accounts[name] = a
	}
	return a
}

func notFound(op string, id gmail.MessageID) error {
	return fault.New(fault.NotFound, op, fmt.Errorf("message %s not found", id))
}

// List evaluates a small subset of Gmail search syntax: is:unread,
// is:read, in:inbox, from:, subject: and free text. Like Gmail, from: and
// subject: match whole words, not substrings. Trashed messages are
// excluded unless the query contains in:trash.
func (m *Mailbox) List(ctx context.Context, acct string, q gmail.Query, maxResults int) ([]gmail.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(acct)
	terms := tokenize(q.Raw)
	var out []gmail.MessageID
	for _, id := range a.order {
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		if matches(a.msgs[id], terms) {
			out = append(out, id)
		}
	}
	return out, nil
}

func matches(msg *gmail.Message, terms []string) bool {
	inTrash := false
	for _, t := range terms {
		if t == "in:trash" {
			inTrash = true
		}
	}
	if msg.HasLabel(gmail.LabelTrash) != inTrash {
		return false
	}
	for _, t := range terms {
		key, val, hasKey := strings.Cut(t, ":")
		if !hasKey {
			key, val = "", t
		}
		val = strings.ToLower(val)
		switch key {
		case "is":
			if val == "unread" && !msg.HasLabel(gmail.LabelUnread) {
				return false
			}
			if val == "read" && msg.HasLabel(gmail.LabelUnread) {
				return false
			}
		case "in":
			if val == "inbox" && !msg.HasLabel(gmail.LabelInbox) {
				return false
			}
		case "from":
			if !hasWords(msg.From(), val) {
				return false
			}
		case "subject":
			if !hasWords(msg.Subject(), val) {
				return false
			}
		case "":
			hay := strings.ToLower(msg.From() + " " + msg.Subject() + " " + msg.Snippet)
			if !strings.Contains(hay, val) {
				return false
			}
		}
	}
	return true
}

// hasWords reports whether the words of val appear consecutively among the
// words of field.
func hasWords(field, val string) bool {
	want := words(val)
	if len(want) == 0 {
		return true
	}
	have := words(field)
	for i := 0; i+len(want) <= len(have); i++ {
		if slices.Equal(have[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenize splits on spaces, keeping double-quoted values together and
// dropping the quotes.
func tokenize(raw string) []string {
	var out []string
	var cur strings.Builder
	quoted := false
	for _, r := range raw {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ' ' && !quoted:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (m *Mailbox) Get(ctx context.Context, acct string, id gmail.MessageID, format gmail.Format) (gmail.Message, error) {
	_ = format
	if err := ctx.Err(); err != nil {
		return gmail.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.GetErr[id]; err != nil {
		return gmail.Message{}, err
	}
	msg, ok := m.account(acct).msgs[id]
	if !ok {
		return gmail.Message{}, notFound("get message", id)
	}
	cp := *msg
	cp.LabelIDs = append([]gmail.LabelID(nil), msg.LabelIDs...)
	return cp, nil
}

func (m *Mailbox) Send(ctx context.Context, acct string, raw []byte, threadID string) (gmail.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := gmail.MessageID(fmt.Sprintf("sent-%d", m.nextID))
	m.Sent = append(m.Sent, Sent{Account: acct, Raw: append([]byte(nil), raw...), ThreadID: threadID, ID: id})
	m.Calls = append(m.Calls, Call{Method: "send", Account: acct, ID: id})
	return id, nil
}

func (m *Mailbox) Trash(ctx context.Context, acct string, id gmail.MessageID) error {
	return m.mutate(ctx, "trash", acct, id, func(msg *gmail.Message) {
		addLabel(msg, gmail.LabelTrash)
	})
}

func (m *Mailbox) Untrash(ctx context.Context, acct string, id gmail.MessageID) error {
	return m.mutate(ctx, "untrash", acct, id, func(msg *gmail.Message) {
		removeLabel(msg, gmail.LabelTrash)
	})
}

func (m *Mailbox) Modify(ctx context.Context, acct string, id gmail.MessageID, ops gmail.ModifyOps) error {
	return m.mutate(ctx, "modify", acct, id, func(msg *gmail.Message) {
		for _, l := range ops.Add {
			addLabel(msg, l)
		}
		for _, l := range ops.Remove {
			removeLabel(msg, l)
		}
	})
}

func (m *Mailbox) mutate(ctx context.Context, method, acct string, id gmail.MessageID, fn func(*gmail.Message)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Method: method, Account: acct, ID: id})
	if err := m.MutateErr[id]; err != nil {
		return err
	}
	msg, ok := m.account(acct).msgs[id]
	if !ok {
		return notFound(method+" message", id)
	}
	fn(msg)
	return nil
}

func (m *Mailbox) UnreadCount(ctx context.Context, acct string) (int, error) {
	ids, err := m.List(ctx, acct, gmail.Query{Raw: gmail.UnreadQuery}, 0)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (m *Mailbox) Profile(ctx context.Context, acct string) (gmail.Profile, error) {
	if err := ctx.Err(); err != nil {
		return gmail.Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[acct]
	if !ok {
		return gmail.Profile{}, fault.New(fault.NotFound, "profile", errors.New("unknown account"))
	}
	return gmail.Profile{EmailAddress: acct + "@example.com", MessagesTotal: int64(len(a.msgs))}, nil
}

func addLabel(msg *gmail.Message, label gmail.LabelID) {
	if !msg.HasLabel(label) {
		msg.LabelIDs = append(msg.LabelIDs, label)
	}
}

func removeLabel(msg *gmail.Message, label gmail.LabelID) {
	out := msg.LabelIDs[:0]
	for _, l := range msg.LabelIDs {
		if l != label {
			out = append(out, l)
		}
	}
	msg.LabelIDs = out
}

var _ gmail.Client = (*Mailbox)(nil)
