// Package actions applies reversible mailbox operations. Every destructive
// forward operation is written to an audit log before the provider is
// touched, and reversing replays the log through the inverse operation.
package actions

import (
	"context"
	"fmt"

	"github.com/joshsymonds/inboxd/internal/auditlog"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

// Op enumerates the reversible operations.
type Op int

const (
	Delete Op = iota + 1
	Restore
	Archive
	Unarchive
	MarkRead
	MarkUnread
)

var opNames = map[Op]string{
	Delete:     "delete",
	Restore:    "restore",
	Archive:    "archive",
	Unarchive:  "unarchive",
	MarkRead:   "mark-read",
	MarkUnread: "mark-unread",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp maps a command name such as "mark-read" onto an Op.
func ParseOp(name string) (Op, error) {
	for op, n := range opNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}

// Inverse returns the operation that undoes o.
func Inverse(o Op) Op {
	switch o {
	case Delete:
		return Restore
	case Restore:
		return Delete
	case Archive:
		return Unarchive
	case Unarchive:
		return Archive
	case MarkRead:
		return MarkUnread
	case MarkUnread:
		return MarkRead
	default:
		return 0
	}
}

// AuditLogFor names the audit log an operation writes to (forward) or
// consumes (reverse). Label flips for read state are not audited.
func AuditLogFor(o Op) (auditlog.Kind, bool) {
	switch o {
	case Delete, Restore:
		return auditlog.Deletions, true
	case Archive, Unarchive:
		return auditlog.Archives, true
	default:
		return 0, false
	}
}

// Forward reports whether o is the destructive half of its pair.
func (o Op) Forward() bool {
	return o == Delete || o == Archive || o == MarkRead
}

// apply issues the provider call for o on a single message.
func apply(ctx context.Context, c gmail.Client, o Op, account string, id gmail.MessageID) error {
	switch o {
	case Delete:
		return c.Trash(ctx, account, id)
	case Restore:
		return c.Untrash(ctx, account, id)
	case Archive:
		return c.Modify(ctx, account, id, gmail.ArchiveOps())
	case Unarchive:
		return c.Modify(ctx, account, id, gmail.UnarchiveOps())
	case MarkRead:
		return c.Modify(ctx, account, id, gmail.MarkReadOps())
	case MarkUnread:
		return c.Modify(ctx, account, id, gmail.MarkUnreadOps())
	default:
		return fmt.Errorf("unsupported operation %s", o)
	}
}
