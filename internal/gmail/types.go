package gmail

import (
	"strings"
	"time"
)

// MessageID is the provider's permanent message identifier.
type MessageID string

// LabelID is a Gmail label identifier (system labels are upper case).
type LabelID string

// System labels used by the reversible actions.
const (
	LabelInbox  LabelID = "INBOX"
	LabelUnread LabelID = "UNREAD"
	LabelTrash  LabelID = "TRASH"

	LabelStarred   LabelID = "STARRED"
	LabelImportant LabelID = "IMPORTANT"
)

// Format selects how much of a message Get returns.
type Format string

const (
	FormatMinimal  Format = "minimal"
	FormatMetadata Format = "metadata"
	FormatFull     Format = "full"
	FormatRaw      Format = "raw"
)

// Message is the metadata view of a provider message. Raw is populated
// only for FormatRaw.
type Message struct {
	ID       MessageID         `json:"id"`
	ThreadID string            `json:"threadId"`
	LabelIDs []LabelID         `json:"labelIds,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Snippet  string            `json:"snippet"`
	Date     time.Time         `json:"date"`
	Raw      []byte            `json:"-"`
}

// Header returns a header value, matching the name case-insensitively.
func (m Message) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (m Message) From() string    { return m.Header("From") }
func (m Message) Subject() string { return m.Header("Subject") }

// HasLabel reports whether the message carries label.
func (m Message) HasLabel(label LabelID) bool {
	for _, l := range m.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// ModifyOps describes a label change for a single message.
type ModifyOps struct {
	Add    []LabelID
	Remove []LabelID
}

// ArchiveOps removes INBOX.
func ArchiveOps() ModifyOps { return ModifyOps{Remove: []LabelID{LabelInbox}} }

// UnarchiveOps adds INBOX back.
func UnarchiveOps() ModifyOps { return ModifyOps{Add: []LabelID{LabelInbox}} }

// MarkReadOps removes UNREAD.
func MarkReadOps() ModifyOps { return ModifyOps{Remove: []LabelID{LabelUnread}} }

// MarkUnreadOps adds UNREAD.
func MarkUnreadOps() ModifyOps { return ModifyOps{Add: []LabelID{LabelUnread}} }

// Query is a Gmail search string, already formed (e.g. `in:inbox is:unread`).
type Query struct {
	Raw string
}

// And joins non-empty query fragments with spaces.
func (q Query) And(parts ...string) Query {
	all := make([]string, 0, len(parts)+1)
	if s := strings.TrimSpace(q.Raw); s != "" {
		all = append(all, s)
	}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			all = append(all, p)
		}
	}
	return Query{Raw: strings.Join(all, " ")}
}

// Profile is per-account mailbox information.
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
}
