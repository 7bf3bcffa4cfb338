// Package svcinstall writes the periodic timer that runs `inboxd check`:
// a systemd user service and timer on Linux or a launchd agent on macOS.
package svcinstall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/joshsymonds/inboxd/internal/fault"
)

const (
	// Label names the launchd agent.
	Label = "com.inboxd.check"
	// UnitName is the systemd unit base name.
	UnitName = "inboxd"
	// DefaultInterval is minutes between checks.
	DefaultInterval = 5
)

// Unit is one file the installer writes.
type Unit struct {
	Path    string
	Content string
}

// Installer targets the current user's scheduler.
type Installer struct {
	GOOS      string
	Home      string
	Binary    string
	ConfigDir string
	// Interval is minutes between runs.
	Interval int
	// Run executes scheduler commands; defaults to exec.CommandContext.
	Run func(ctx context.Context, name string, args ...string) error
}

type unitData struct {
	Label     string
	Name      string
	Binary    string
	ConfigDir string
	Minutes   int
	Seconds   int
	LogPath   string
}

var serviceTmpl = template.Must(template.New("service").Parse(`[Unit]
Description=inboxd mail check

[Service]
Type=oneshot
ExecStart={{.Binary}} check --quiet
{{- if .ConfigDir}}
Environment=INBOXD_TOKEN_DIR={{.ConfigDir}}
{{- end}}
`))

var timerTmpl = template.Must(template.New("timer").Parse(`[Unit]
Description=Run inboxd check every {{.Minutes}} minutes

[Timer]
OnBootSec=2min
OnUnitActiveSec={{.Minutes}}min
Unit={{.Name}}.service

[Install]
WantedBy=timers.target
`))

var plistTmpl = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Binary}}</string>
		<string>check</string>
		<string>--quiet</string>
	</array>
{{- if .ConfigDir}}
	<key>EnvironmentVariables</key>
	<dict>
		<key>INBOXD_TOKEN_DIR</key>
		<string>{{.ConfigDir}}</string>
	</dict>
{{- end}}
	<key>StartInterval</key>
	<integer>{{.Seconds}}</integer>
	<key>RunAtLoad</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{.LogPath}}</string>
	<key>StandardErrorPath</key>
	<string>{{.LogPath}}</string>
</dict>
</plist>
`))

func (in Installer) data() unitData {
	minutes := in.Interval
	if minutes <= 0 {
		minutes = DefaultInterval
	}
	return unitData{
		Label:     Label,
		Name:      UnitName,
		Binary:    in.Binary,
		ConfigDir: in.ConfigDir,
		Minutes:   minutes,
		Seconds:   minutes * 60,
		LogPath:   filepath.Join(in.Home, "Library", "Logs", "inboxd.log"),
	}
}

func render(t *template.Template, d unitData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Units returns the files Install would write.
func (in Installer) Units() ([]Unit, error) {
	if in.Binary == "" {
		return nil, errors.New("service install: binary path required")
	}
	d := in.data()
	switch in.GOOS {
	case "linux":
		dir := filepath.Join(in.Home, ".config", "systemd", "user")
		svc, err := render(serviceTmpl, d)
		if err != nil {
			return nil, err
		}
		timer, err := render(timerTmpl, d)
		if err != nil {
			return nil, err
		}
		return []Unit{
			{Path: filepath.Join(dir, UnitName+".service"), Content: svc},
			{Path: filepath.Join(dir, UnitName+".timer"), Content: timer},
		}, nil
	case "darwin":
		if strings.ContainsAny(in.Binary+in.ConfigDir, "<>&") {
			return nil, fault.Newf(fault.Invalid, "service install", "paths may not contain XML markup characters")
		}
		plist, err := render(plistTmpl, d)
		if err != nil {
			return nil, err
		}
		return []Unit{{Path: filepath.Join(in.Home, "Library", "LaunchAgents", Label+".plist"), Content: plist}}, nil
	default:
		return nil, fault.Newf(fault.Invalid, "service install", "unsupported platform %q; schedule `inboxd check` with cron", in.GOOS)
	}
}

func (in Installer) run(ctx context.Context, name string, args ...string) error {
	if in.Run != nil {
		return in.Run(ctx, name, args...)
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput() // #nosec G204 - fixed scheduler commands
	if err != nil {
		return fmt.Errorf("%s %s: %w (output: %s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Install writes the units and activates the timer.
func (in Installer) Install(ctx context.Context) ([]Unit, error) {
	units, err := in.Units()
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if err := os.MkdirAll(filepath.Dir(u.Path), 0o755); err != nil {
			return nil, fault.New(fault.IOError, "service install", err)
		}
		if err := os.WriteFile(u.Path, []byte(u.Content), 0o644); err != nil { // #nosec G306 - scheduler units are not secret
			return nil, fault.New(fault.IOError, "service install", err)
		}
	}
	switch in.GOOS {
	case "linux":
		if err := in.run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
			return units, err
		}
		return units, in.run(ctx, "systemctl", "--user", "enable", "--now", UnitName+".timer")
	default:
		// Reloading an already loaded agent fails, so unload first.
		_ = in.run(ctx, "launchctl", "unload", units[0].Path)
		return units, in.run(ctx, "launchctl", "load", "-w", units[0].Path)
	}
}

// Uninstall stops the timer and removes the units. Missing files are not
// an error.
func (in Installer) Uninstall(ctx context.Context) ([]Unit, error) {
	units, err := in.Units()
	if err != nil {
		return nil, err
	}
	switch in.GOOS {
	case "linux":
		_ = in.run(ctx, "systemctl", "--user", "disable", "--now", UnitName+".timer")
	default:
		_ = in.run(ctx, "launchctl", "unload", "-w", units[0].Path)
	}
	var removed []Unit
	for _, u := range units {
		if err := os.Remove(u.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fault.New(fault.IOError, "service uninstall", err)
		}
		removed = append(removed, u)
	}
	if in.GOOS == "linux" {
		_ = in.run(ctx, "systemctl", "--user", "daemon-reload")
	}
	return removed, nil
}
