package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxd/internal/actions"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

type batchOutput struct {
	Op        string         `json:"op"`
	Account   string         `json:"account,omitempty"`
	DryRun    bool           `json:"dryRun,omitempty"`
	Plan      *actions.Plan  `json:"plan,omitempty"`
	Results   []gmail.Result `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

func newBatchOutput(op actions.Op, account string, results []gmail.Result) batchOutput {
	if results == nil {
		results = []gmail.Result{}
	}
	failed := gmail.Failed(results)
	return batchOutput{Op: op.String(), Account: account, Results: results, Succeeded: len(results) - failed, Failed: failed}
}

func (a *App) printResults(w io.Writer, verb string, out batchOutput) {
	for _, r := range out.Results {
		switch {
		case r.Noop:
			fmt.Fprintf(w, "  %s: already done\n", r.ID)
		case !r.Success:
			fmt.Fprintf(w, "  %s: %v\n", r.ID, r.Err)
		}
	}
	fmt.Fprintf(w, "%s %d, failed %d\n", verb, out.Succeeded, out.Failed)
}

func printPlan(w io.Writer, plan actions.Plan) {
	printCandidates(w, plan.Candidates)
	for _, warn := range plan.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

type forwardFlags struct {
	ids     string
	sender  string
	match   string
	query   string
	limit   int
	dryRun  bool
	force   bool
	confirm bool
}

// forwardCommand builds delete, archive, mark-read and mark-unread. Targets
// are --ids or a --sender/--match pattern; prompt asks for confirmation.
func (a *App) forwardCommand(use, short string, op actions.Op, verb string, prompt bool) *cobra.Command {
	var fl forwardFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.confirm = fl.confirm || !prompt
			acct, err := a.resolve()
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			ids := splitIDs(fl.ids)
			if len(ids) > 0 {
				if fl.sender != "" || fl.match != "" || fl.query != "" {
					return fault.Newf(fault.Invalid, use, "--ids cannot be combined with a pattern")
				}
				return a.forwardIDs(cmd.Context(), engine, op, acct.Name, ids, verb, fl.dryRun)
			}
			filter := actions.Filter{
				Sender:  fl.sender,
				Subject: fl.match,
				Query:   fl.query,
				Limit:   fl.limit,
				DryRun:  fl.dryRun,
				Force:   fl.force,
			}
			confirm := func(plan actions.Plan) error {
				printPlan(a.Err, plan)
				return a.prompt(fmt.Sprintf("%s %d message(s) in %s?", use, len(plan.Candidates), acct.Name))
			}
			plan, results, err := engine.ApplyFilter(cmd.Context(), op, acct.Name, filter, confirm)
			if err != nil {
				if fault.KindOf(err) == fault.UnsafeBatch && !a.jsonOut {
					printPlan(a.Err, plan)
				}
				return err
			}
			out := newBatchOutput(op, acct.Name, results)
			out.Plan = &plan
			out.DryRun = fl.dryRun
			if err := a.emit(out, func(w io.Writer) {
				if fl.dryRun || len(plan.Candidates) == 0 {
					printPlan(w, plan)
					fmt.Fprintf(w, "%d message(s) would be %s\n", len(plan.Candidates), verb)
					return
				}
				a.printResults(w, verb, out)
			}); err != nil {
				return err
			}
			return batchError(results)
		},
	}
	f := cmd.Flags()
	f.StringVar(&fl.ids, "ids", "", "comma separated message ids")
	f.StringVar(&fl.sender, "sender", "", "match sender (case-insensitive substring)")
	f.StringVar(&fl.match, "match", "", "match subject (case-insensitive substring)")
	f.StringVar(&fl.query, "query", "", "extra Gmail query terms")
	f.IntVar(&fl.limit, "limit", actions.DefaultFilterLimit, "maximum messages matched by a pattern")
	f.BoolVar(&fl.dryRun, "dry-run", false, "show what would change")
	f.BoolVar(&fl.force, "force", false, "allow short patterns and large batches")
	if prompt {
		f.BoolVar(&fl.confirm, "confirm", false, "skip the confirmation prompt")
	}
	return cmd
}

func (a *App) forwardIDs(ctx context.Context, engine *actions.Engine, op actions.Op, account string, ids []gmail.MessageID, verb string, dryRun bool) error {
	if dryRun {
		plan := actions.Plan{Op: op, Account: account}
		for _, id := range ids {
			msg, err := engine.Client.Get(ctx, account, id, gmail.FormatMetadata)
			if err != nil {
				a.logger().Warn("resolve for preview", slog.String("id", string(id)), slog.Any("error", err))
				msg = gmail.Message{ID: id}
			}
			plan.Candidates = append(plan.Candidates, msg)
		}
		out := newBatchOutput(op, account, nil)
		out.DryRun = true
		out.Plan = &plan
		return a.emit(out, func(w io.Writer) {
			printPlan(w, plan)
			fmt.Fprintf(w, "%d message(s) would be %s\n", len(ids), verb)
		})
	}
	if err := a.prompt(fmt.Sprintf("%s %d message(s) in %s?", op, len(ids), account)); err != nil {
		return err
	}
	var (
		results []gmail.Result
		err     error
	)
	if op.Forward() {
		results, err = engine.Forward(ctx, op, account, ids)
	} else {
		results, err = engine.Reverse(ctx, op, actions.Selection{IDs: ids, Account: account})
	}
	if err != nil {
		return err
	}
	out := newBatchOutput(op, account, results)
	if err := a.emit(out, func(w io.Writer) { a.printResults(w, verb, out) }); err != nil {
		return err
	}
	return batchError(results)
}

// reverseCommand builds restore and unarchive over the audit logs.
func (a *App) reverseCommand(use, short string, op actions.Op, verb string) *cobra.Command {
	var (
		ids  string
		last int
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel := actions.Selection{IDs: splitIDs(ids), Last: last, Account: strings.TrimSpace(a.account)}
			if len(sel.IDs) == 0 && sel.Last <= 0 {
				return fault.Newf(fault.Invalid, use, "give --ids or --last N")
			}
			if len(sel.IDs) > 0 && sel.Last > 0 {
				return fault.Newf(fault.Invalid, use, "--ids and --last are exclusive")
			}
			if sel.Account != "" {
				if _, err := a.resolve(); err != nil {
					return err
				}
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			results, err := engine.Reverse(cmd.Context(), op, sel)
			if err != nil {
				return err
			}
			out := newBatchOutput(op, sel.Account, results)
			if err := a.emit(out, func(w io.Writer) {
				if len(results) == 0 {
					fmt.Fprintf(w, "nothing to %s\n", use)
					return
				}
				a.printResults(w, verb, out)
			}); err != nil {
				return err
			}
			return batchError(results)
		},
	}
	cmd.Flags().StringVar(&ids, "ids", "", "comma separated message ids")
	cmd.Flags().IntVar(&last, "last", 0, "reverse the N most recent log entries")
	return cmd
}
