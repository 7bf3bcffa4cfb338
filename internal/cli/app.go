// Package cli is the cobra front-end. Commands parse flags, call into the
// service packages, and render text or JSON.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/inboxd/internal/actions"
	"github.com/joshsymonds/inboxd/internal/auditlog"
	"github.com/joshsymonds/inboxd/internal/auth"
	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/gmailctl"
	"github.com/joshsymonds/inboxd/internal/notify"
	"github.com/joshsymonds/inboxd/internal/runtime"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitUser     = 1
	ExitAuth     = 2
	ExitProvider = 3
	ExitPartial  = 4
)

const envFile = ".env"

// App carries the dependencies of one invocation.
type App struct {
	Dir      string
	Settings config.Settings
	Store    *auth.Store
	Logger   *slog.Logger
	Usage    *auditlog.UsageLog

	In  io.Reader
	Out io.Writer
	Err io.Writer

	Clock      func() time.Time
	GOOS       string
	Home       string
	Executable string

	// NewClient builds the provider client on first use.
	NewClient func() (gmail.Client, error)
	// Authorize runs the OAuth consent flow.
	Authorize func(ctx context.Context) (*oauth2.Token, error)
	Notifier  notify.Notifier
	Gmailctl  gmailctl.Runner
	// RunCommand executes scheduler commands for install-service.
	RunCommand func(ctx context.Context, name string, args ...string) error

	account string
	verbose bool
	jsonOut bool
	confirm bool

	client gmail.Client
	input  *bufio.Reader
}

// New wires the production dependencies. The .env file must already be
// loaded so INBOXD_TOKEN_DIR is honored.
func New() (*App, error) {
	dir := config.Dir()
	if err := config.EnsureDir(dir); err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(dir)
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "inboxd"
	}
	a := &App{
		Dir:        dir,
		Settings:   settings,
		Store:      auth.NewStore(dir),
		Usage:      auditlog.OpenUsage(dir),
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
		Clock:      time.Now,
		GOOS:       goruntime.GOOS,
		Home:       home,
		Executable: exe,
		Notifier:   notify.NewDesktop(settings.Notify.Command),
	}
	a.NewClient = func() (gmail.Client, error) {
		return runtime.NewProvider(a.Store, a.Settings, a.logger())
	}
	a.Authorize = func(ctx context.Context) (*oauth2.Token, error) {
		cfg, err := a.Store.OAuthConfig(runtime.Scopes...)
		if err != nil {
			return nil, err
		}
		return auth.Flow{Config: cfg, Open: a.openBrowser, Out: a.Err}.Run(ctx)
	}
	return a, nil
}

// Main is the process entry point; it returns the exit code.
func Main(args []string) int {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "inboxd: load %s: %v\n", envFile, err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	a, err := New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "inboxd: %v\n", err)
		return ExitCode(err)
	}
	return a.Execute(ctx, args)
}

// Execute runs args and records the invocation in the usage log.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.Command()
	root.SetArgs(args)
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)
	cmd, err := root.ExecuteContextC(ctx)
	if cmd != nil && cmd != root && a.Usage != nil {
		entry := auditlog.UsageEntry{
			TS:      a.now().UTC(),
			Cmd:     strings.TrimPrefix(cmd.CommandPath(), root.Name()+" "),
			Flags:   changedFlags(cmd),
			Account: a.account,
			Success: err == nil,
		}
		if logErr := a.Usage.Log(entry); logErr != nil {
			a.logger().Debug("usage log", slog.Any("error", logErr))
		}
	}
	if err != nil {
		var pe *partialError
		if !errors.As(err, &pe) || !a.jsonOut {
			fmt.Fprintf(a.Err, "inboxd: %v\n", err)
		}
		return ExitCode(err)
	}
	return ExitOK
}

func changedFlags(cmd *cobra.Command) []string {
	out := []string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		out = append(out, f.Name)
	})
	return out
}

// Command builds the command tree bound to a.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "inboxd",
		Short:         "inboxd triages Gmail accounts with reversible actions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if a.Logger == nil {
				a.Logger = runtime.NewLogger(a.Err, a.verbose)
				slog.SetDefault(a.Logger)
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.account, "account", "a", "", "account name (defaults to the first linked account)")
	pf.BoolVar(&a.verbose, "verbose", false, "enable debug logging")
	pf.BoolVar(&a.jsonOut, "json", false, "emit JSON on stdout")

	root.AddCommand(
		a.setupCommand(),
		a.authCommand(),
		a.accountsCommand(),
		a.logoutCommand(),
		a.summaryCommand(),
		a.checkCommand(),
		a.analyzeCommand(),
		a.readCommand(),
		a.searchCommand(),
		a.forwardCommand("delete", "Move messages to trash (logged for restore)", actions.Delete, "deleted", true),
		a.reverseCommand("restore", "Restore messages from the deletion log", actions.Restore, "restored"),
		a.forwardCommand("archive", "Remove messages from the inbox (logged for unarchive)", actions.Archive, "archived", true),
		a.reverseCommand("unarchive", "Return archived messages to the inbox", actions.Unarchive, "unarchived"),
		a.forwardCommand("mark-read", "Mark messages read", actions.MarkRead, "marked read", true),
		a.forwardCommand("mark-unread", "Mark messages unread", actions.MarkUnread, "marked unread", false),
		a.sweepCommand(),
		a.sendCommand(),
		a.replyCommand(),
		a.deletionLogCommand(),
		a.statsCommand(),
		a.cleanupSuggestCommand(),
		a.rulesCommand(),
		a.installServiceCommand(),
		a.installSkillCommand(),
	)
	return root
}

func (a *App) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *App) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock()
}

func (a *App) gmailClient() (gmail.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.NewClient == nil {
		return nil, errors.New("no provider client configured")
	}
	c, err := a.NewClient()
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

func (a *App) engine() (*actions.Engine, error) {
	c, err := a.gmailClient()
	if err != nil {
		return nil, err
	}
	e := actions.NewEngine(c, a.Dir, a.logger())
	e.Clock = a.now
	return e, nil
}

// resolve returns the --account account or the first linked one.
func (a *App) resolve() (auth.Account, error) {
	return a.Store.Resolve(a.account)
}

// targets returns the --account account alone, or every linked account.
func (a *App) targets() ([]auth.Account, error) {
	if a.account != "" {
		acct, err := a.resolve()
		if err != nil {
			return nil, err
		}
		return []auth.Account{acct}, nil
	}
	all := a.Store.ListAccounts()
	if len(all) == 0 {
		return nil, auth.ErrNoAccounts
	}
	return all, nil
}

func (a *App) emit(v any, human func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return nil
	}
	human(a.Out)
	return nil
}

// prompt asks for y/N on stderr unless --confirm was given.
func (a *App) prompt(question string) error {
	if a.confirm {
		return nil
	}
	fmt.Fprintf(a.Err, "%s\nProceed? (y/N) ", question)
	line, err := a.readLine()
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return fault.Newf(fault.UserCancelled, "prompt", "cancelled")
	}
}

func (a *App) openBrowser(url string) error {
	var name string
	switch a.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start() // #nosec G204 - consent URL
	default:
		name = "xdg-open"
	}
	return exec.Command(name, url).Start() // #nosec G204 - consent URL
}

// partialError reports a batch where some ids failed.
type partialError struct {
	failed, total int
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%d of %d failed", e.failed, e.total)
}

// batchError summarises results: nil when all succeeded, a partial error
// when some did, and the first failure's kind when none did.
func batchError(results []gmail.Result) error {
	failed := gmail.Failed(results)
	if failed == 0 {
		return nil
	}
	var first gmail.Result
	for _, r := range results {
		if !r.Success {
			first = r
			break
		}
	}
	if failed < len(results) {
		return &partialError{failed: failed, total: len(results)}
	}
	if len(results) == 1 {
		return first.Err
	}
	return fault.New(first.Kind(), "batch", fmt.Errorf("all %d failed; first: %w", failed, first.Err))
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var pe *partialError
	if errors.As(err, &pe) {
		return ExitPartial
	}
	switch fault.KindOf(err) {
	case fault.AuthRevoked, fault.Unauthorized:
		return ExitAuth
	case fault.RateLimited, fault.Network, fault.Provider5xx, fault.Client4xx:
		return ExitProvider
	default:
		return ExitUser
	}
}

func splitIDs(raw string) []gmail.MessageID {
	var out []gmail.MessageID
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, gmail.MessageID(part))
		}
	}
	return out
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
