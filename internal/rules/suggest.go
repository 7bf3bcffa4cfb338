package rules

import (
	"strings"

	"github.com/joshsymonds/inboxd/internal/gmailctl"
)

// SenderStat counts messages attributed to one sender address.
type SenderStat struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// Analysis is the input to BuildSuggested.
type Analysis struct {
	FrequentDeleters []SenderStat `json:"frequentDeleters"`
	NeverReadSenders []SenderStat `json:"neverReadSenders"`
}

// BuildSuggested turns an analysis into candidate rules without persisting
// them. Frequent deleters become always-delete candidates and never-read
// senders become auto-archive candidates. Senders already covered by an
// existing sender-only rule are skipped.
func BuildSuggested(a Analysis, existing []Rule) []Rule {
	covered := map[string]bool{}
	for _, r := range existing {
		if r.SubjectPattern == "" && r.Sender != "" {
			covered[strings.ToLower(r.Sender)] = true
		}
	}
	var out []Rule
	emit := func(action Action, stats []SenderStat) {
		for _, s := range stats {
			sender := strings.ToLower(strings.TrimSpace(s.Sender))
			if sender == "" || covered[sender] {
				continue
			}
			covered[sender] = true
			out = append(out, Rule{Action: action, Sender: sender})
		}
	}
	emit(AlwaysDelete, a.FrequentDeleters)
	emit(AutoArchive, a.NeverReadSenders)
	return out
}

// FromGmailctl converts gmailctl filters that match on from or subject and
// trash, archive or mark read into candidate rules. Filters relying on
// other criteria are skipped and counted.
func FromGmailctl(export gmailctl.Export) (candidates []Rule, skipped int) {
	for _, f := range export.Filters {
		c := f.Criteria
		if (c.From == "" && c.Subject == "") || c.Query != "" || c.To != "" {
			skipped++
			continue
		}
		var acts []Action
		if f.Action.Adds("TRASH") {
			acts = append(acts, AlwaysDelete)
		} else {
			if f.Action.Removes("INBOX") {
				acts = append(acts, AutoArchive)
			}
			if f.Action.Removes("UNREAD") {
				acts = append(acts, AutoMarkRead)
			}
		}
		if len(acts) == 0 {
			skipped++
			continue
		}
		for _, a := range acts {
			candidates = append(candidates, Rule{Action: a, Sender: c.From, SubjectPattern: c.Subject})
		}
	}
	return candidates, skipped
}
