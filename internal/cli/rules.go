package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxd/internal/audit"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/rules"
)

func (a *App) rulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage rules applied to new mail during check",
	}
	cmd.AddCommand(a.rulesListCommand(), a.rulesAddCommand(), a.rulesRemoveCommand(), a.rulesImportCommand(), a.rulesLintCommand())
	return cmd
}

func printRules(w io.Writer, list []rules.Rule) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No rules.")
		return
	}
	for _, r := range list {
		fmt.Fprintf(w, "%s  %-14s", r.ID, r.Action)
		if r.Sender != "" {
			fmt.Fprintf(w, " sender=%q", r.Sender)
		}
		if r.SubjectPattern != "" {
			fmt.Fprintf(w, " subject=%q", r.SubjectPattern)
		}
		fmt.Fprintln(w)
	}
}

func (a *App) rulesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			list := rules.NewStore(a.Dir).List()
			if list == nil {
				list = []rules.Rule{}
			}
			return a.emit(list, func(w io.Writer) { printRules(w, list) })
		},
	}
}

func (a *App) rulesAddCommand() *cobra.Command {
	var action, sender, subject string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			act, err := rules.ParseAction(action)
			if err != nil {
				return fault.New(fault.Invalid, "rules add", err)
			}
			r, added, err := rules.NewStore(a.Dir).Add(rules.Rule{Action: act, Sender: sender, SubjectPattern: subject})
			if err != nil {
				if fault.KindOf(err) == fault.Unknown {
					return fault.New(fault.Invalid, "rules add", err)
				}
				return err
			}
			return a.emit(map[string]any{"rule": r, "added": added}, func(w io.Writer) {
				if !added {
					fmt.Fprintf(w, "Rule already exists: %s\n", r.ID)
					return
				}
				fmt.Fprintf(w, "Added rule %s\n", r.ID)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&action, "action", "", "always-delete, never-delete, auto-archive or auto-mark-read")
	f.StringVar(&sender, "sender", "", "sender substring")
	f.StringVar(&subject, "subject", "", "subject substring")
	return cmd
}

func (a *App) rulesRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r, err := rules.NewStore(a.Dir).Remove(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return a.emit(r, func(w io.Writer) { fmt.Fprintf(w, "Removed rule %s\n", r.ID) })
		},
	}
}

type importOutput struct {
	Candidates []rules.Rule `json:"candidates"`
	Added      []rules.Rule `json:"added"`
	Existing   int          `json:"existing"`
	Skipped    int          `json:"skipped"`
	DryRun     bool         `json:"dryRun,omitempty"`
}

func (a *App) rulesImportCommand() *cobra.Command {
	var (
		binary, configDir string
		dryRun            bool
	)
	cmd := &cobra.Command{
		Use:   "import-gmailctl",
		Short: "Import simple filters from a gmailctl configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner := a.Gmailctl
			if binary != "" {
				runner.Binary = binary
			}
			if configDir != "" {
				runner.ConfigDir = configDir
			}
			export, err := runner.ExportFilters(cmd.Context())
			if err != nil {
				return fault.New(fault.Invalid, "import gmailctl", err)
			}
			candidates, skipped := rules.FromGmailctl(export)
			out := importOutput{Candidates: candidates, Added: []rules.Rule{}, Skipped: skipped, DryRun: dryRun}
			if out.Candidates == nil {
				out.Candidates = []rules.Rule{}
			}
			if !dryRun {
				store := rules.NewStore(a.Dir)
				for _, c := range candidates {
					r, added, err := store.Add(c)
					if err != nil {
						return err
					}
					if added {
						out.Added = append(out.Added, r)
					} else {
						out.Existing++
					}
				}
			}
			return a.emit(out, func(w io.Writer) {
				if dryRun {
					printRules(w, candidates)
					fmt.Fprintf(w, "%d importable, %d skipped\n", len(candidates), skipped)
					return
				}
				fmt.Fprintf(w, "Imported %d rule(s), %d already present, %d filter(s) skipped\n", len(out.Added), out.Existing, skipped)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&binary, "gmailctl", "", "gmailctl binary (default gmailctl on PATH)")
	f.StringVar(&configDir, "config", "", "gmailctl config directory")
	f.BoolVar(&dryRun, "dry-run", false, "list importable rules without saving")
	return cmd
}

func (a *App) rulesLintCommand() *cobra.Command {
	var (
		failOn  string
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Report dead, shadowed and conflicting rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conds, err := audit.ParseFailOn(failOn)
			if err != nil {
				return fault.New(fault.Invalid, "rules lint", err)
			}
			list := rules.NewStore(a.Dir).List()
			// An empty sample disables dead-rule detection.
			var sample []gmail.Message
			if !offline && len(list) > 0 {
				sample, err = a.inventorySample(cmd)
				if err != nil {
					return err
				}
			}
			rep := audit.RunLint(list, sample)
			if err := a.emit(rep, func(w io.Writer) { fmt.Fprint(w, rep.HumanSummary()) }); err != nil {
				return err
			}
			if rep.ShouldFail(conds) {
				return fault.Newf(fault.Invalid, "rules lint", "findings matched --fail-on %s", failOn)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&failOn, "fail-on", "", "exit non-zero on dead, shadowed, conflict or short findings")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the mailbox sample (no dead-rule detection)")
	return cmd
}
