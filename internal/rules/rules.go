// Package rules stores per-sender and per-subject rules and decides which
// reversible action, if any, applies to a newly arrived message.
package rules

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/inboxd/internal/actions"
	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/jsonstore"
)

// Action is what a rule does to a matching message.
type Action string

const (
	AlwaysDelete Action = "always-delete"
	NeverDelete  Action = "never-delete"
	AutoArchive  Action = "auto-archive"
	AutoMarkRead Action = "auto-mark-read"
)

// ParseAction validates a user-supplied action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.TrimSpace(strings.ToLower(s))); a {
	case AlwaysDelete, NeverDelete, AutoArchive, AutoMarkRead:
		return a, nil
	default:
		return "", fmt.Errorf("unknown rule action %q (want always-delete, never-delete, auto-archive or auto-mark-read)", s)
	}
}

// Op maps the action onto the engine operation it triggers. never-delete
// triggers nothing.
func (a Action) Op() (actions.Op, bool) {
	switch a {
	case AlwaysDelete:
		return actions.Delete, true
	case AutoArchive:
		return actions.Archive, true
	case AutoMarkRead:
		return actions.MarkRead, true
	default:
		return 0, false
	}
}

// Rule matches on a sender substring, a subject substring, or both.
type Rule struct {
	ID             string    `json:"id"`
	Action         Action    `json:"action"`
	Sender         string    `json:"sender,omitempty"`
	SubjectPattern string    `json:"subjectPattern,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type identity struct {
	action          Action
	sender, subject string
}

func (r Rule) identity() identity {
	return identity{
		action:  r.Action,
		sender:  strings.ToLower(strings.TrimSpace(r.Sender)),
		subject: strings.ToLower(strings.TrimSpace(r.SubjectPattern)),
	}
}

// Matches reports whether msg satisfies every predicate the rule sets.
func (r Rule) Matches(msg gmail.Message) bool {
	id := r.identity()
	if id.sender == "" && id.subject == "" {
		return false
	}
	if id.sender != "" && !strings.Contains(strings.ToLower(msg.From()), id.sender) {
		return false
	}
	if id.subject != "" && !strings.Contains(strings.ToLower(msg.Subject()), id.subject) {
		return false
	}
	return true
}

// Evaluate returns the rule that applies to msg. Any matching never-delete
// rule wins and yields no action; otherwise the first match in order.
func Evaluate(rules []Rule, msg gmail.Message) (Rule, bool) {
	for _, r := range rules {
		if r.Action == NeverDelete && r.Matches(msg) {
			return Rule{}, false
		}
	}
	for _, r := range rules {
		if r.Action != NeverDelete && r.Matches(msg) {
			return r, true
		}
	}
	return Rule{}, false
}

type document struct {
	Rules []Rule `json:"rules"`
}

// Store persists rules in rules.json, preserving insertion order.
type Store struct {
	Path  string
	Clock func() time.Time
	NewID func() string
}

// NewStore returns the rule store under dir.
func NewStore(dir string) *Store {
	return &Store{
		Path:  filepath.Join(dir, config.RulesFile),
		Clock: time.Now,
		NewID: uuid.NewString,
	}
}

// List returns all rules in insertion order.
func (s *Store) List() []Rule {
	doc := jsonstore.Read(s.Path, document{})
	return doc.Rules
}

// Add stores r unless a rule with the same action, sender and subject
// already exists, in which case the existing rule is returned and added is
// false.
func (s *Store) Add(r Rule) (rule Rule, added bool, err error) {
	r.Sender = strings.TrimSpace(r.Sender)
	r.SubjectPattern = strings.TrimSpace(r.SubjectPattern)
	if _, err := ParseAction(string(r.Action)); err != nil {
		return Rule{}, false, err
	}
	if r.Sender == "" && r.SubjectPattern == "" {
		return Rule{}, false, errors.New("rule needs a sender or a subject pattern")
	}
	err = jsonstore.Update(s.Path, document{}, func(doc document) (document, error) {
		want := r.identity()
		for _, existing := range doc.Rules {
			if existing.identity() == want {
				rule = existing
				return doc, nil
			}
		}
		if r.ID == "" {
			r.ID = s.newID()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now().UTC()
		}
		doc.Rules = append(doc.Rules, r)
		rule, added = r, true
		return doc, nil
	})
	if err != nil {
		return Rule{}, false, fault.New(fault.IOError, "add rule", err)
	}
	return rule, added, nil
}

// Remove deletes the rule with id.
func (s *Store) Remove(id string) (Rule, error) {
	var removed Rule
	found := false
	err := jsonstore.Update(s.Path, document{}, func(doc document) (document, error) {
		kept := doc.Rules[:0]
		for _, r := range doc.Rules {
			if r.ID == id && !found {
				removed, found = r, true
				continue
			}
			kept = append(kept, r)
		}
		doc.Rules = kept
		return doc, nil
	})
	if err != nil {
		return Rule{}, fault.New(fault.IOError, "remove rule", err)
	}
	if !found {
		return Rule{}, fault.Newf(fault.NotFound, "remove rule", "no rule with id %s", id)
	}
	return removed, nil
}

func (s *Store) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *Store) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}
