package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	dbusnotify "github.com/TheCreeper/go-notify"
)

const (
	appName = "inboxd"
	appIcon = "mail-unread"
	// notificationTimeout is in milliseconds.
	notificationTimeout = 10000
)

// Desktop delivers notifications to the desktop: over D-Bus when Bus is
// set, then notify-send on Linux, osascript on macOS, or Command when set.
// Command receives the title and body as its last two arguments.
type Desktop struct {
	Command string
	GOOS    string
	// Run executes the notifier; defaults to exec.CommandContext.
	Run func(ctx context.Context, name string, args ...string) error
	// Bus posts directly to the freedesktop notification service. A
	// failure falls back to notify-send.
	Bus func(title, body string) error
}

// NewDesktop returns a notifier for the current platform.
func NewDesktop(command string) Desktop {
	d := Desktop{Command: command, GOOS: runtime.GOOS}
	if d.GOOS != "darwin" && d.GOOS != "windows" {
		d.Bus = showDBus
	}
	return d
}

func showDBus(title, body string) error {
	ntf := dbusnotify.NewNotification(title, body)
	ntf.AppName = appName
	ntf.AppIcon = appIcon
	ntf.Timeout = notificationTimeout
	if _, err := ntf.Show(); err != nil {
		return fmt.Errorf("dbus notification: %w", err)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput() // #nosec G204 - notifier chosen by the user
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Format renders the title and body of n.
func Format(n Notification) (title, body string) {
	title = "inboxd: new mail (" + n.Account + ")"
	from := n.From
	if from == "" {
		from = "unknown sender"
	}
	body = from
	if n.Subject != "" {
		body += "\n" + n.Subject
	}
	return title, body
}

// Notify implements Notifier.
func (d Desktop) Notify(ctx context.Context, n Notification) error {
	run := d.Run
	if run == nil {
		run = runCommand
	}
	title, body := Format(n)
	if cmd := strings.Fields(d.Command); len(cmd) > 0 {
		return run(ctx, cmd[0], append(cmd[1:], title, body)...)
	}
	switch d.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleQuote(body), appleQuote(title))
		return run(ctx, "osascript", "-e", script)
	case "linux", "freebsd", "openbsd", "netbsd":
		if d.Bus != nil && d.Bus(title, body) == nil {
			return nil
		}
		return run(ctx, "notify-send", "--app-name="+appName, title, body)
	default:
		return nil
	}
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
