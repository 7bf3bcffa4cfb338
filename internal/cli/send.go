package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxd/internal/auditlog"
	"github.com/joshsymonds/inboxd/internal/auth"
	"github.com/joshsymonds/inboxd/internal/compose"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
)

type sendOutput struct {
	Account   string          `json:"account"`
	To        string          `json:"to"`
	Subject   string          `json:"subject"`
	ThreadID  string          `json:"threadId,omitempty"`
	MessageID gmail.MessageID `json:"messageId,omitempty"`
	DryRun    bool            `json:"dryRun,omitempty"`
	Raw       string          `json:"raw,omitempty"`
}

func (a *App) sendCommand() *cobra.Command {
	var (
		to, subject, body string
		dryRun            bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a plain-text message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(to) == "" || strings.TrimSpace(subject) == "" {
				return fault.Newf(fault.Invalid, "send", "-t and -s are required")
			}
			acct, err := a.resolve()
			if err != nil {
				return err
			}
			d := compose.Draft{From: acct.Email, To: to, Subject: subject, Body: body, Date: a.now()}
			return a.deliver(cmd.Context(), acct, d, dryRun)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&to, "to", "t", "", "recipients")
	f.StringVarP(&subject, "subject", "s", "", "subject")
	f.StringVarP(&body, "body", "b", "", "body text")
	f.BoolVar(&dryRun, "dry-run", false, "print the message without sending")
	f.BoolVar(&a.confirm, "confirm", false, "skip the confirmation prompt")
	return cmd
}

func (a *App) replyCommand() *cobra.Command {
	var (
		id, body string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Reply in thread to a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(id) == "" {
				return fault.Newf(fault.Invalid, "reply", "--id is required")
			}
			acct, err := a.resolve()
			if err != nil {
				return err
			}
			client, err := a.gmailClient()
			if err != nil {
				return err
			}
			orig, err := client.Get(cmd.Context(), acct.Name, gmail.MessageID(id), gmail.FormatMetadata)
			if err != nil {
				return err
			}
			d, err := compose.Reply(orig, body)
			if err != nil {
				return fault.New(fault.Invalid, "reply", err)
			}
			d.From = acct.Email
			d.Date = a.now()
			return a.deliver(cmd.Context(), acct, d, dryRun)
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "message id to reply to")
	f.StringVarP(&body, "body", "b", "", "body text")
	f.BoolVar(&dryRun, "dry-run", false, "print the reply without sending")
	f.BoolVar(&a.confirm, "confirm", false, "skip the confirmation prompt")
	return cmd
}

// deliver builds d, confirms, sends and records it in the sent log.
func (a *App) deliver(ctx context.Context, acct auth.Account, d compose.Draft, dryRun bool) error {
	raw, err := compose.Build(d)
	if err != nil {
		return fault.New(fault.Invalid, "compose", err)
	}
	out := sendOutput{Account: acct.Name, To: d.To, Subject: d.Subject, ThreadID: d.ThreadID}
	if dryRun {
		out.DryRun = true
		out.Raw = string(raw)
		return a.emit(out, func(w io.Writer) { fmt.Fprint(w, string(raw)) })
	}
	if err := a.prompt(fmt.Sprintf("Send %q to %s from %s?", d.Subject, d.To, acct.Name)); err != nil {
		return err
	}
	client, err := a.gmailClient()
	if err != nil {
		return err
	}
	id, err := client.Send(ctx, acct.Name, raw, d.ThreadID)
	if err != nil {
		return err
	}
	out.MessageID = id
	entry := auditlog.SentEntry{
		SentAt:      a.now().UTC(),
		Account:     acct.Name,
		To:          d.To,
		Subject:     d.Subject,
		BodyPreview: auditlog.Preview(d.Body),
		MessageID:   id,
	}
	if err := auditlog.OpenSent(a.Dir).Append(entry); err != nil {
		a.logger().Warn("sent log", slog.String("account", acct.Name), slog.Any("error", err))
	}
	return a.emit(out, func(w io.Writer) {
		fmt.Fprintf(w, "Sent %s to %s\n", id, d.To)
	})
}
