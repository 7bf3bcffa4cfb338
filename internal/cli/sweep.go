package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxd/internal/analyze"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/sweep"
)

type sweepFlags struct {
	label         string
	olderThan     string
	graceMap      string
	exclude       string
	limit         int
	dryRun        bool
	pauseWeekends bool
	confirm       bool
}

type sweepOutput struct {
	Account  string         `json:"account"`
	DryRun   bool           `json:"dryRun,omitempty"`
	Sweeps   []sweep.Report `json:"sweeps"`
	Archived int            `json:"archived"`
	Failed   int            `json:"failed"`
}

// sweepCommand archives stale unread inbox mail through the audited
// archive path, so `unarchive --last N` undoes it.
func (a *App) sweepCommand() *cobra.Command {
	var fl sweepFlags
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Archive unread inbox mail older than a grace period (logged for unarchive)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.confirm = fl.confirm
			grace := sweep.DefaultGrace
			if strings.TrimSpace(fl.olderThan) != "" {
				d, err := analyze.ParseAge(fl.olderThan)
				if err != nil || d <= 0 {
					return fault.Newf(fault.Invalid, "sweep", "invalid --older-than %q", fl.olderThan)
				}
				grace = d
			}
			overrides, err := sweep.ParseGraceMap(fl.graceMap)
			if err != nil {
				return fault.New(fault.Invalid, "sweep", err)
			}
			acct, err := a.resolve()
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			svc := sweep.NewService(engine, a.logger())
			svc.Clock = a.now

			base := sweep.Spec{
				Label:         strings.TrimSpace(fl.label),
				Grace:         grace,
				ExcludeLabels: splitList(fl.exclude),
				Limit:         fl.limit,
				DryRun:        fl.dryRun,
				PauseWeekends: fl.pauseWeekends,
			}
			var plans []sweep.Report
			total := 0
			for _, spec := range sweep.Specs(base, overrides) {
				rep, err := svc.Plan(cmd.Context(), acct.Name, spec)
				if err != nil {
					return err
				}
				total += len(rep.Candidates)
				plans = append(plans, rep)
			}
			if total > 0 && !fl.dryRun {
				for _, rep := range plans {
					printCandidates(a.Err, rep.Candidates)
				}
				if err := a.prompt(fmt.Sprintf("archive %d stale message(s) in %s?", total, acct.Name)); err != nil {
					return err
				}
			}

			out := sweepOutput{Account: acct.Name, DryRun: fl.dryRun}
			var all []gmail.Result
			for _, rep := range plans {
				done, err := svc.Apply(cmd.Context(), rep)
				if err != nil {
					return err
				}
				all = append(all, done.Results...)
				out.Sweeps = append(out.Sweeps, done)
			}
			out.Failed = gmail.Failed(all)
			out.Archived = len(all) - out.Failed
			if err := a.emit(out, func(w io.Writer) {
				for _, rep := range out.Sweeps {
					scope := "inbox"
					if rep.Label != "" {
						scope = rep.Label
					}
					switch {
					case rep.Skipped != "":
						fmt.Fprintf(w, "%s: skipped (%s)\n", scope, rep.Skipped)
					case fl.dryRun:
						printCandidates(w, rep.Candidates)
						fmt.Fprintf(w, "%s: %d message(s) older than %s would be archived\n", scope, len(rep.Candidates), rep.Grace)
					}
				}
				if !fl.dryRun {
					fmt.Fprintf(w, "archived %d, failed %d\n", out.Archived, out.Failed)
				}
			}); err != nil {
				return err
			}
			return batchError(all)
		},
	}
	f := cmd.Flags()
	f.StringVar(&fl.label, "label", "", "limit the sweep to this label")
	f.StringVar(&fl.olderThan, "older-than", "48h", "grace period, e.g. 48h or 3d")
	f.StringVar(&fl.graceMap, "grace-map", "", "comma separated label=duration overrides")
	f.StringVar(&fl.exclude, "exclude-labels", "", "comma separated labels never swept")
	f.IntVar(&fl.limit, "limit", sweep.DefaultLimit, "maximum messages per sweep")
	f.BoolVar(&fl.dryRun, "dry-run", false, "show what would be archived")
	f.BoolVar(&fl.pauseWeekends, "pause-weekends", false, "skip runs on Saturday and Sunday")
	f.BoolVar(&fl.confirm, "confirm", false, "skip the confirmation prompt")
	return cmd
}

func printCandidates(w io.Writer, msgs []gmail.Message) {
	for _, m := range msgs {
		fmt.Fprintf(w, "  %-18s %-32.32s %s\n", m.ID, m.From(), m.Subject())
	}
}

func splitList(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
