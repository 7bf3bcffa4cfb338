// Package stats aggregates the audit logs and derives cleanup suggestions.
// Everything here is a pure function of its inputs.
package stats

import (
	"sort"
	"time"

	"github.com/joshsymonds/inboxd/internal/auditlog"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/mailaddr"
	"github.com/joshsymonds/inboxd/internal/rules"
)

const dayLayout = "2006-01-02"

// Count is one bucket of an aggregation.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Report aggregates audit entries over a window.
type Report struct {
	WindowDays int     `json:"windowDays"`
	Total      int     `json:"total"`
	ByDomain   []Count `json:"byDomain"`
	ByDay      []Count `json:"byDay"`
	ByAccount  []Count `json:"byAccount"`
}

func inWindow(at, now time.Time, windowDays int) bool {
	if windowDays <= 0 {
		return true
	}
	return !at.Before(now.Add(-time.Duration(windowDays) * 24 * time.Hour))
}

// Compute counts entries within the last windowDays days (all entries when
// windowDays <= 0) by sender domain, UTC day and account. Domain and
// account buckets are ordered by count, days chronologically.
func Compute(entries []auditlog.Entry, windowDays int, now time.Time) Report {
	rep := Report{WindowDays: windowDays}
	domains, days, accounts := map[string]int{}, map[string]int{}, map[string]int{}
	for _, e := range entries {
		if !inWindow(e.At, now, windowDays) {
			continue
		}
		rep.Total++
		domain := mailaddr.Domain(e.From)
		if domain == "" {
			domain = "(unknown)"
		}
		domains[domain]++
		days[e.At.UTC().Format(dayLayout)]++
		accounts[e.Account]++
	}
	rep.ByDomain = byCount(domains)
	rep.ByAccount = byCount(accounts)
	rep.ByDay = byKey(days)
	return rep
}

func byCount(m map[string]int) []Count {
	out := toCounts(m)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Key < out[j].Key
		}
		return out[i].Count > out[j].Count
	})
	return out
}

func byKey(m map[string]int) []Count {
	out := toCounts(m)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func toCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	return out
}

// Input is everything Analyze looks at.
type Input struct {
	Deletions []auditlog.Entry
	Archives  []auditlog.Entry
	// Inventory is a sample of current mailbox metadata, used for read
	// signals and never-read detection.
	Inventory []gmail.Message
}

// Analyze finds senders worth a rule. A sender with at least minCount
// deletions in the window and no read signal (a read message from them in
// the inventory, or an archived message) is a frequent deleter. A sender
// with at least minCount inventory messages, all unread, is a never-read
// sender.
func Analyze(in Input, windowDays, minCount int, now time.Time) rules.Analysis {
	if minCount <= 0 {
		minCount = 1
	}
	readSignal := map[string]bool{}
	inventory := map[string]int{}
	unread := map[string]int{}
	for _, m := range in.Inventory {
		sender := mailaddr.Email(m.From())
		if sender == "" {
			continue
		}
		inventory[sender]++
		if m.HasLabel(gmail.LabelUnread) {
			unread[sender]++
		} else {
			readSignal[sender] = true
		}
	}
	for _, e := range in.Archives {
		if sender := mailaddr.Email(e.From); sender != "" {
			readSignal[sender] = true
		}
	}

	deleted := map[string]int{}
	for _, e := range in.Deletions {
		if !inWindow(e.At, now, windowDays) {
			continue
		}
		if sender := mailaddr.Email(e.From); sender != "" {
			deleted[sender]++
		}
	}

	var out rules.Analysis
	for sender, n := range deleted {
		if n >= minCount && !readSignal[sender] {
			out.FrequentDeleters = append(out.FrequentDeleters, rules.SenderStat{Sender: sender, Count: n})
		}
	}
	for sender, n := range inventory {
		if n >= minCount && unread[sender] == n && deleted[sender] < minCount {
			out.NeverReadSenders = append(out.NeverReadSenders, rules.SenderStat{Sender: sender, Count: n})
		}
	}
	sortStats(out.FrequentDeleters)
	sortStats(out.NeverReadSenders)
	return out
}

func sortStats(s []rules.SenderStat) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Count == s[j].Count {
			return s[i].Sender < s[j].Sender
		}
		return s[i].Count > s[j].Count
	})
}
