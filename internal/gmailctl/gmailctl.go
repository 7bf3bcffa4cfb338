// Package gmailctl reads filter definitions compiled by the gmailctl tool so
// they can be imported as inboxd rules.
package gmailctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Export is the payload of `gmailctl compile --format=json`.
type Export struct {
	Filters []Filter `json:"filters"`
	Labels  []Label  `json:"labels"`
}

// Filter is one compiled Gmail filter.
type Filter struct {
	ID       string   `json:"id,omitempty"`
	Criteria Criteria `json:"criteria"`
	Action   Action   `json:"action"`
}

// Criteria holds the predicates a filter matches on.
type Criteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
}

// Action holds label changes applied by a filter.
type Action struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

// Label is a label declared in the gmailctl config.
type Label struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Adds reports whether the filter adds label.
func (a Action) Adds(label string) bool { return contains(a.AddLabelIDs, label) }

// Removes reports whether the filter removes label.
func (a Action) Removes(label string) bool { return contains(a.RemoveLabelIDs, label) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Decode parses a compiled export.
func Decode(r io.Reader) (Export, error) {
	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return Export{}, fmt.Errorf("decode gmailctl output: %w", err)
	}
	if len(export.Filters) == 0 {
		return Export{}, errors.New("gmailctl export contains no filters")
	}
	return export, nil
}

// Runner shells out to the gmailctl binary.
type Runner struct {
	Binary    string
	ConfigDir string
}

// ExportFilters runs gmailctl compile and decodes its output.
func (r Runner) ExportFilters(ctx context.Context) (Export, error) {
	bin := r.Binary
	if bin == "" {
		bin = "gmailctl"
	}
	args := []string{"compile", "--format=json"}
	if strings.TrimSpace(r.ConfigDir) != "" {
		args = append(args, "--config", r.ConfigDir)
	}
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 - binary chosen by the user
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Export{}, fmt.Errorf("run gmailctl: %w (output: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return Decode(strings.NewReader(string(out)))
}
