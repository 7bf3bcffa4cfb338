package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxd/internal/analyze"
	"github.com/joshsymonds/inboxd/internal/auditlog"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/rules"
	"github.com/joshsymonds/inboxd/internal/stats"
)

const suggestInventory = 200

func (a *App) deletionLogCommand() *cobra.Command {
	var (
		days     int
		archived bool
	)
	cmd := &cobra.Command{
		Use:   "deletion-log",
		Short: "List logged deletions that can be restored",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kind := auditlog.Deletions
			if archived {
				kind = auditlog.Archives
			}
			entries := auditlog.Open(a.Dir, kind).List(days)
			if a.account != "" {
				kept := entries[:0]
				for _, e := range entries {
					if e.Account == a.account {
						kept = append(kept, e)
					}
				}
				entries = kept
			}
			if entries == nil {
				entries = []auditlog.Entry{}
			}
			return a.emit(entries, func(w io.Writer) {
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %-12s %-18s %-32.32s %s\n", e.At.Local().Format("2006-01-02 15:04"), e.Account, e.ID, e.From, e.Subject)
				}
				fmt.Fprintf(w, "%d %s entr%s\n", len(entries), kind, plural(len(entries), "y", "ies"))
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "only entries from the last N days (0 = all)")
	cmd.Flags().BoolVar(&archived, "archived", false, "show the archive log instead")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (a *App) statsCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise deletion history",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if days <= 0 {
				days = a.Settings.Suggest.WindowDays
			}
			rep := stats.Compute(auditlog.Open(a.Dir, auditlog.Deletions).List(0), days, a.now())
			return a.emit(rep, func(w io.Writer) {
				fmt.Fprintf(w, "%d deletions in the last %d days\n", rep.Total, rep.WindowDays)
				section := func(title string, counts []stats.Count, limit int) {
					if len(counts) == 0 {
						return
					}
					fmt.Fprintf(w, "\n%s:\n", title)
					for i, c := range counts {
						if limit > 0 && i >= limit {
							break
						}
						fmt.Fprintf(w, "  %-32s %d\n", c.Key, c.Count)
					}
				}
				section("By domain", rep.ByDomain, 10)
				section("By account", rep.ByAccount, 0)
				section("By day", rep.ByDay, 0)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "window in days (default from settings)")
	return cmd
}

type suggestOutput struct {
	Analysis    rules.Analysis `json:"analysis"`
	Suggestions []rules.Rule   `json:"suggestions"`
	Added       []rules.Rule   `json:"added,omitempty"`
}

func (a *App) cleanupSuggestCommand() *cobra.Command {
	var (
		days, minCount int
		offline, apply bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup-suggest",
		Short: "Suggest rules from deletion history and unread senders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				days = a.Settings.Suggest.WindowDays
			}
			if minCount <= 0 {
				minCount = a.Settings.Suggest.MinDeletions
			}
			in := stats.Input{
				Deletions: auditlog.Open(a.Dir, auditlog.Deletions).List(0),
				Archives:  auditlog.Open(a.Dir, auditlog.Archives).List(0),
			}
			if !offline {
				inventory, err := a.inventorySample(cmd)
				if err != nil {
					return err
				}
				in.Inventory = inventory
			}
			store := rules.NewStore(a.Dir)
			analysis := stats.Analyze(in, days, minCount, a.now())
			out := suggestOutput{Analysis: analysis, Suggestions: rules.BuildSuggested(analysis, store.List())}
			if out.Suggestions == nil {
				out.Suggestions = []rules.Rule{}
			}
			if apply && len(out.Suggestions) > 0 {
				for _, r := range out.Suggestions {
					fmt.Fprintf(a.Err, "  %s %s\n", r.Action, r.Sender)
				}
				if err := a.prompt(fmt.Sprintf("Add %d rule(s)?", len(out.Suggestions))); err != nil {
					return err
				}
				for _, r := range out.Suggestions {
					saved, added, err := store.Add(r)
					if err != nil {
						return err
					}
					if added {
						out.Added = append(out.Added, saved)
					}
				}
			}
			return a.emit(out, func(w io.Writer) {
				if len(out.Suggestions) == 0 {
					fmt.Fprintln(w, "No suggestions.")
					return
				}
				counts := map[string]int{}
				for _, s := range analysis.FrequentDeleters {
					counts[s.Sender] = s.Count
				}
				for _, s := range analysis.NeverReadSenders {
					counts[s.Sender] = s.Count
				}
				for _, r := range out.Suggestions {
					fmt.Fprintf(w, "  %-14s %-40s (%d messages)\n", r.Action, r.Sender, counts[r.Sender])
				}
				if apply {
					fmt.Fprintf(w, "Added %d rule(s)\n", len(out.Added))
				} else {
					fmt.Fprintln(w, "Add with: inboxd rules add --action <action> --sender <sender>, or re-run with --apply")
				}
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&days, "days", 0, "deletion window in days (default from settings)")
	f.IntVar(&minCount, "min", 0, "minimum messages per sender (default from settings)")
	f.BoolVar(&offline, "offline", false, "skip the mailbox sample and use the logs only")
	f.BoolVar(&apply, "apply", false, "save the suggestions as rules")
	f.BoolVar(&a.confirm, "confirm", false, "skip the confirmation prompt with --apply")
	return cmd
}

// inventorySample fetches recent inbox metadata for read signals. An
// account that cannot be read is skipped.
func (a *App) inventorySample(cmd *cobra.Command) ([]gmail.Message, error) {
	accounts, err := a.targets()
	if err != nil {
		return nil, err
	}
	client, err := a.gmailClient()
	if err != nil {
		return nil, err
	}
	svc := analyze.NewService(client, a.logger())
	svc.Clock = a.now
	var out []gmail.Message
	for _, acct := range accounts {
		inv, err := svc.Run(cmd.Context(), acct.Name, analyze.Options{Count: suggestInventory})
		if err != nil {
			a.logger().Warn("inventory sample", slog.String("account", acct.Name), slog.Any("error", err))
			continue
		}
		out = append(out, inv.Raw...)
	}
	return out, nil
}
