package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/inboxd/internal/analyze"
	"github.com/joshsymonds/inboxd/internal/compose"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/notify"
	"github.com/joshsymonds/inboxd/internal/rules"
	"github.com/joshsymonds/inboxd/internal/seen"
)

const summaryConcurrency = 4

type accountSummary struct {
	Account   string     `json:"account"`
	Email     string     `json:"email"`
	Unread    int        `json:"unread"`
	LastCheck *time.Time `json:"lastCheck"`
	Error     string     `json:"error,omitempty"`
}

func (a *App) summaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show unread counts per account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := a.targets()
			if err != nil {
				return err
			}
			client, err := a.gmailClient()
			if err != nil {
				return err
			}
			tracker := seen.NewTracker(a.Dir)
			out := make([]accountSummary, len(accounts))
			errs := make([]error, len(accounts))
			var g errgroup.Group
			g.SetLimit(summaryConcurrency)
			for i, acct := range accounts {
				out[i] = accountSummary{Account: acct.Name, Email: acct.Email}
				if last := tracker.State(acct.Name).LastCheckTime(); !last.IsZero() {
					out[i].LastCheck = &last
				}
				g.Go(func() error {
					n, err := client.UnreadCount(cmd.Context(), acct.Name)
					if err != nil {
						out[i].Error = err.Error()
						errs[i] = err
						return nil
					}
					out[i].Unread = n
					return nil
				})
			}
			_ = g.Wait()
			failures := 0
			for _, s := range out {
				if s.Error != "" {
					failures++
				}
			}
			if err := a.emit(out, func(w io.Writer) {
				for _, s := range out {
					if s.Error != "" {
						fmt.Fprintf(w, "%-16s error: %s\n", s.Account, s.Error)
						continue
					}
					var last time.Time
					if s.LastCheck != nil {
						last = *s.LastCheck
					}
					fmt.Fprintf(w, "%-16s %4d unread  (last check %s)\n", s.Account, s.Unread, ago(last, a.now()))
				}
			}); err != nil {
				return err
			}
			if failures == len(out) {
				return fmt.Errorf("no account could be read: %w", errs[0])
			}
			return nil
		},
	}
}

func (a *App) checkCommand() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Notify about new unread mail and apply rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := a.targets()
			if err != nil {
				if quiet {
					a.logger().Warn("check skipped", slog.Any("error", err))
					return nil
				}
				return err
			}
			client, err := a.gmailClient()
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			tracker := seen.NewTracker(a.Dir)
			tracker.Clock = a.now
			checker := &notify.Checker{
				Client:     client,
				Seen:       tracker,
				Rules:      rules.NewStore(a.Dir),
				Engine:     engine,
				Notifier:   a.Notifier,
				Logger:     a.logger(),
				Throttle:   a.Settings.Notify.Throttle,
				MaxResults: a.Settings.Check.MaxResults,
				Clock:      a.now,
			}
			names := make([]string, len(accounts))
			for i, acct := range accounts {
				names[i] = acct.Name
			}
			reports := checker.Check(cmd.Context(), names)
			if quiet && !a.jsonOut {
				return nil
			}
			return a.emit(reports, func(w io.Writer) {
				for _, r := range reports {
					if r.Error != "" {
						fmt.Fprintf(w, "%-16s error: %s\n", r.Account, r.Error)
						continue
					}
					fmt.Fprintf(w, "%-16s %d unread, %d new, %d notified, %d by rules", r.Account, r.Unread, r.New, len(r.Notified), len(r.Applied))
					if r.Throttled > 0 {
						fmt.Fprintf(w, ", %d throttled", r.Throttled)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "print nothing (for timers)")
	return cmd
}

func (a *App) analyzeCommand() *cobra.Command {
	var (
		count     int
		groupBy   string
		olderThan string
		query     string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Emit a JSON inventory of the inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			by, err := analyze.ParseGroupBy(groupBy)
			if err != nil {
				return fault.New(fault.Invalid, "analyze", err)
			}
			age, err := analyze.ParseAge(olderThan)
			if err != nil {
				return fault.New(fault.Invalid, "analyze", err)
			}
			acct, err := a.resolve()
			if err != nil {
				return err
			}
			client, err := a.gmailClient()
			if err != nil {
				return err
			}
			svc := analyze.NewService(client, a.logger())
			svc.Clock = a.now
			inv, err := svc.Run(cmd.Context(), acct.Name, analyze.Options{Count: count, GroupBy: by, OlderThan: age, Query: query})
			if err != nil {
				return err
			}
			a.jsonOut = true
			return a.emit(inv, nil)
		},
	}
	f := cmd.Flags()
	f.IntVar(&count, "count", analyze.DefaultCount, "maximum messages to inventory")
	f.StringVar(&groupBy, "group-by", "", "group by sender or thread")
	f.StringVar(&olderThan, "older-than", "", "only messages older than this (e.g. 30d, 12h)")
	f.StringVarP(&query, "query", "q", "", "Gmail query (default in:inbox)")
	return cmd
}

type readOutput struct {
	ID       gmail.MessageID `json:"id"`
	ThreadID string          `json:"threadId"`
	compose.Content
}

func (a *App) readCommand() *cobra.Command {
	var (
		id    string
		links bool
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print one message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(id) == "" {
				return fault.Newf(fault.Invalid, "read", "--id is required")
			}
			acct, err := a.resolve()
			if err != nil {
				return err
			}
			client, err := a.gmailClient()
			if err != nil {
				return err
			}
			msg, err := client.Get(cmd.Context(), acct.Name, gmail.MessageID(id), gmail.FormatRaw)
			if err != nil {
				return err
			}
			content, err := compose.Parse(msg.Raw)
			if err != nil {
				return fault.New(fault.Invalid, "read", err)
			}
			if links {
				content.Links = compose.Links(content.Text, content.HTML)
			}
			out := readOutput{ID: msg.ID, ThreadID: msg.ThreadID, Content: content}
			return a.emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "From:    %s\nTo:      %s\nSubject: %s\n", content.From, content.To, content.Subject)
				if !content.Date.IsZero() {
					fmt.Fprintf(w, "Date:    %s\n", content.Date.Format(time.RFC1123Z))
				}
				for _, att := range content.Attachments {
					fmt.Fprintf(w, "Attachment: %s (%s, %d bytes)\n", att.Filename, att.MIMEType, att.Size)
				}
				fmt.Fprintln(w)
				body := content.Text
				if strings.TrimSpace(body) == "" {
					body = content.HTML
				}
				fmt.Fprintln(w, strings.TrimRight(body, "\r\n"))
				if links {
					fmt.Fprintln(w, "\nLinks:")
					for _, l := range content.Links {
						fmt.Fprintf(w, "  %s\n", l)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "message id")
	cmd.Flags().BoolVar(&links, "links", false, "list links found in the message")
	return cmd
}

func (a *App) searchCommand() *cobra.Command {
	var (
		query string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a Gmail search query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(query) == "" {
				return fault.Newf(fault.Invalid, "search", "-q is required")
			}
			acct, err := a.resolve()
			if err != nil {
				return err
			}
			client, err := a.gmailClient()
			if err != nil {
				return err
			}
			svc := analyze.NewService(client, a.logger())
			svc.Clock = a.now
			inv, err := svc.Run(cmd.Context(), acct.Name, analyze.Options{Count: limit, Query: query})
			if err != nil {
				return err
			}
			items := inv.Messages
			if items == nil {
				items = []analyze.Item{}
			}
			return a.emit(items, func(w io.Writer) {
				printItems(w, items)
				fmt.Fprintf(w, "%d message(s)\n", len(items))
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Gmail search query")
	cmd.Flags().IntVar(&limit, "limit", 25, "maximum results")
	return cmd
}

func printItems(w io.Writer, items []analyze.Item) {
	for _, it := range items {
		flag := " "
		if it.Unread {
			flag = "*"
		}
		fmt.Fprintf(w, "%s %-18s %s  %-32.32s %s\n", flag, it.ID, it.Date.Format("2006-01-02"), it.From, it.Subject)
	}
}
