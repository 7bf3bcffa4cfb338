// Package audit checks the rule set for rules that can never fire, rules
// hidden behind earlier ones, and never-delete rules that silently cancel
// other actions. An optional mailbox sample adds match counts.
package audit

import (
	"fmt"
	"strings"

	"github.com/joshsymonds/inboxd/internal/actions"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/rules"
)

// RuleFinding flags a single rule.
type RuleFinding struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Conflict flags rules that interfere with each other.
type Conflict struct {
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
	Observed    int      `json:"observed,omitempty"`
}

// Findings groups everything Lint reports.
type Findings struct {
	DeadRules     []RuleFinding `json:"deadRules,omitempty"`
	Shadowed      []RuleFinding `json:"shadowed,omitempty"`
	Conflicts     []Conflict    `json:"conflicts,omitempty"`
	ShortPatterns []RuleFinding `json:"shortPatterns,omitempty"`
}

// Empty reports whether nothing was found.
func (f Findings) Empty() bool {
	return len(f.DeadRules) == 0 && len(f.Shadowed) == 0 && len(f.Conflicts) == 0 && len(f.ShortPatterns) == 0
}

type pattern struct {
	sender, subject string
}

func patternOf(r rules.Rule) pattern {
	return pattern{
		sender:  strings.ToLower(strings.TrimSpace(r.Sender)),
		subject: strings.ToLower(strings.TrimSpace(r.SubjectPattern)),
	}
}

// covers reports whether every message matching b also matches a.
func (a pattern) covers(b pattern) bool {
	if a.sender == "" && a.subject == "" {
		return false
	}
	return fieldCovers(a.sender, b.sender) && fieldCovers(a.subject, b.subject)
}

func fieldCovers(outer, inner string) bool {
	return outer == "" || (inner != "" && strings.Contains(inner, outer))
}

// overlaps reports whether some message could match both a and b.
func (a pattern) overlaps(b pattern) bool {
	return fieldOverlaps(a.sender, b.sender) && fieldOverlaps(a.subject, b.subject)
}

func fieldOverlaps(x, y string) bool {
	return x == "" || y == "" || strings.Contains(x, y) || strings.Contains(y, x)
}

// Name renders a rule for reports.
func Name(r rules.Rule) string {
	var b strings.Builder
	b.WriteString(string(r.Action))
	if r.Sender != "" {
		fmt.Fprintf(&b, " sender=%q", r.Sender)
	}
	if r.SubjectPattern != "" {
		fmt.Fprintf(&b, " subject=%q", r.SubjectPattern)
	}
	return b.String()
}

func finding(r rules.Rule, reason string) RuleFinding {
	return RuleFinding{ID: r.ID, Name: Name(r), Reason: reason}
}

// Lint inspects list in evaluation order. When sample is non-empty, rules
// matching none of its messages are reported dead and conflicts carry the
// number of sampled messages they affected.
func Lint(list []rules.Rule, sample []gmail.Message) Findings {
	var f Findings
	pats := make([]pattern, len(list))
	for i, r := range list {
		pats[i] = patternOf(r)
	}

	for i, r := range list {
		p := pats[i]
		if short(p.sender) || short(p.subject) {
			f.ShortPatterns = append(f.ShortPatterns, finding(r, fmt.Sprintf("pattern shorter than %d characters may match broadly", actions.MinPatternLen)))
		}
		if r.Action == rules.NeverDelete {
			continue
		}
		for j := 0; j < i; j++ {
			prev := list[j]
			if prev.Action == rules.NeverDelete || !pats[j].covers(p) {
				continue
			}
			reason := fmt.Sprintf("never reached: %s (%s) matches first", prev.ID, prev.Action)
			if prev.Action == r.Action {
				reason = fmt.Sprintf("redundant with %s", prev.ID)
			}
			f.Shadowed = append(f.Shadowed, finding(r, reason))
			break
		}
	}

	for i, guard := range list {
		if guard.Action != rules.NeverDelete {
			continue
		}
		for j, r := range list {
			if r.Action == rules.NeverDelete || !pats[i].overlaps(pats[j]) {
				continue
			}
			c := Conflict{
				Rules:       []string{guard.ID, r.ID},
				Description: fmt.Sprintf("%s cancels %s on overlapping mail", Name(guard), Name(r)),
			}
			for _, msg := range sample {
				if guard.Matches(msg) && r.Matches(msg) {
					c.Observed++
				}
			}
			f.Conflicts = append(f.Conflicts, c)
		}
	}

	if len(sample) > 0 {
		for _, r := range list {
			if !matchesAny(r, sample) {
				f.DeadRules = append(f.DeadRules, finding(r, fmt.Sprintf("no match in %d sampled messages", len(sample))))
			}
		}
	}
	return f
}

func short(p string) bool {
	return p != "" && len([]rune(p)) < actions.MinPatternLen
}

func matchesAny(r rules.Rule, sample []gmail.Message) bool {
	for _, msg := range sample {
		if r.Matches(msg) {
			return true
		}
	}
	return false
}
