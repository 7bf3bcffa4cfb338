package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxd/internal/auth"
	"github.com/joshsymonds/inboxd/internal/fault"
)

func (a *App) setupCommand() *cobra.Command {
	var credentials string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Install the Google OAuth client credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := strings.TrimSpace(credentials)
			if path == "" {
				fmt.Fprintln(a.Err, "Create an OAuth client of type \"Desktop app\" in the Google Cloud console,")
				fmt.Fprintln(a.Err, "enable the Gmail API, and download its JSON credentials.")
				fmt.Fprint(a.Err, "Path to credentials JSON: ")
				line, err := a.readLine()
				if err != nil {
					return err
				}
				path = strings.TrimSpace(line)
			}
			if path == "" {
				return fault.Newf(fault.Invalid, "setup", "a credentials file is required")
			}
			raw, err := os.ReadFile(path) // #nosec G304 - user supplied path
			if err != nil {
				return fault.New(fault.IOError, "setup", err)
			}
			if err := a.Store.SaveCredentials(raw); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Saved credentials to %s. Next: inboxd auth -a <name>\n", a.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&credentials, "credentials", "", "path to the downloaded client secrets JSON")
	return cmd
}

func (a *App) readLine() (string, error) {
	if a.input == nil {
		a.input = bufio.NewReader(a.In)
	}
	line, err := a.input.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fault.New(fault.IOError, "read input", err)
	}
	return line, nil
}

func (a *App) authCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Link a Gmail account (-a <name>)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := strings.TrimSpace(a.account)
			if name == "" {
				return fault.Newf(fault.Invalid, "auth", "an account name is required: inboxd auth -a <name>")
			}
			if err := auth.ValidateName(name); err != nil {
				return err
			}
			tok, err := a.Authorize(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Store.AddAccount(name, "", auth.FromOAuth2(tok)); err != nil {
				return err
			}
			client, err := a.gmailClient()
			if err != nil {
				return err
			}
			prof, err := client.Profile(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("linked %s but could not read its profile: %w", name, err)
			}
			stored, _ := a.Store.GetTokens(name)
			if err := a.Store.AddAccount(name, prof.EmailAddress, stored); err != nil {
				return err
			}
			acct, _ := a.Store.Account(name)
			return a.emit(acct, func(w io.Writer) {
				fmt.Fprintf(w, "Linked %s (%s)\n", acct.Name, acct.Email)
			})
		},
	}
}

func (a *App) accountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List linked accounts",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			accounts := a.Store.ListAccounts()
			if accounts == nil {
				accounts = []auth.Account{}
			}
			return a.emit(accounts, func(w io.Writer) {
				if len(accounts) == 0 {
					fmt.Fprintln(w, "No accounts linked; run `inboxd auth -a <name>`.")
					return
				}
				for i, acct := range accounts {
					marker := " "
					if i == 0 {
						marker = "*"
					}
					fmt.Fprintf(w, "%s %-16s %s\n", marker, acct.Name, acct.Email)
				}
			})
		},
	}
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink an account and delete its token and state (-a <name>)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			name := strings.TrimSpace(a.account)
			if name == "" {
				return fault.Newf(fault.Invalid, "logout", "an account name is required: inboxd logout -a <name>")
			}
			if err := a.Store.RemoveAccount(name); err != nil {
				return err
			}
			return a.emit(map[string]string{"removed": name}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s\n", name)
			})
		},
	}
}
