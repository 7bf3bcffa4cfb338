package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/rules"
)

// Fail-on conditions accepted by ShouldFail.
const (
	FailDead     = "dead"
	FailShadowed = "shadowed"
	FailConflict = "conflict"
	FailShort    = "short"
)

// LintReport captures rule findings for scripted enforcement.
type LintReport struct {
	Rules    int      `json:"rules"`
	Sampled  int      `json:"sampled"`
	Findings Findings `json:"findings"`
}

// RunLint lints list. An empty sample skips dead-rule detection.
func RunLint(list []rules.Rule, sample []gmail.Message) LintReport {
	return LintReport{Rules: len(list), Sampled: len(sample), Findings: Lint(list, sample)}
}

// ShouldFail reports whether any of the requested conditions are present.
func (lr LintReport) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		FailDead:     len(lr.Findings.DeadRules) > 0,
		FailShadowed: len(lr.Findings.Shadowed) > 0,
		FailConflict: len(lr.Findings.Conflicts) > 0,
		FailShort:    len(lr.Findings.ShortPatterns) > 0,
	}
	for _, cond := range failOn {
		cond = strings.TrimSpace(strings.ToLower(cond))
		if cond == "" {
			continue
		}
		if flags[cond] {
			return true
		}
	}
	return false
}

// HumanSummary renders a concise CLI summary.
func (lr LintReport) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "inboxd rules lint: %d rule(s), %d sampled message(s)\n", lr.Rules, lr.Sampled)
	if lr.Findings.Empty() {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	section := func(title string, list []RuleFinding) {
		if len(list) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		sorted := append([]RuleFinding(nil), list...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		for _, fr := range sorted {
			fmt.Fprintf(builder, "  %s  %s: %s\n", fr.ID, fr.Name, fr.Reason)
		}
	}
	section("dead rules", lr.Findings.DeadRules)
	section("shadowed rules", lr.Findings.Shadowed)
	section("short patterns", lr.Findings.ShortPatterns)
	if len(lr.Findings.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range lr.Findings.Conflicts {
			fmt.Fprintf(builder, "  %s: %s", strings.Join(cf.Rules, ", "), cf.Description)
			if cf.Observed > 0 {
				fmt.Fprintf(builder, " (%d sampled)", cf.Observed)
			}
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

// ParseFailOn splits a comma separated list into canonical tokens,
// rejecting unknown conditions.
func ParseFailOn(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		switch part {
		case FailDead, FailShadowed, FailConflict, FailShort:
		default:
			return nil, fmt.Errorf("unknown fail-on condition %q", part)
		}
		out = append(out, part)
	}
	return out, nil
}
