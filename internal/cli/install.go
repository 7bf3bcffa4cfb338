package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxd/internal/skill"
	"github.com/joshsymonds/inboxd/internal/svcinstall"
)

func (a *App) installServiceCommand() *cobra.Command {
	var (
		interval  int
		uninstall bool
	)
	cmd := &cobra.Command{
		Use:   "install-service",
		Short: "Run `inboxd check` periodically (systemd or launchd)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := svcinstall.Installer{
				GOOS:      a.GOOS,
				Home:      a.Home,
				Binary:    a.Executable,
				ConfigDir: a.Dir,
				Interval:  interval,
				Run:       a.RunCommand,
			}
			var (
				units []svcinstall.Unit
				err   error
			)
			if uninstall {
				units, err = in.Uninstall(cmd.Context())
			} else {
				units, err = in.Install(cmd.Context())
			}
			if err != nil {
				return err
			}
			paths := make([]string, len(units))
			for i, u := range units {
				paths[i] = u.Path
			}
			return a.emit(map[string]any{"uninstalled": uninstall, "files": paths}, func(w io.Writer) {
				verb := "Installed"
				if uninstall {
					verb = "Removed"
				}
				for _, p := range paths {
					fmt.Fprintf(w, "%s %s\n", verb, p)
				}
				if !uninstall {
					minutes := interval
					if minutes <= 0 {
						minutes = svcinstall.DefaultInterval
					}
					fmt.Fprintf(w, "inboxd check will run every %d minutes\n", minutes)
				}
			})
		},
	}
	cmd.Flags().IntVar(&interval, "interval", svcinstall.DefaultInterval, "minutes between checks")
	cmd.Flags().BoolVar(&uninstall, "uninstall", false, "remove the timer")
	return cmd
}

func (a *App) installSkillCommand() *cobra.Command {
	var (
		uninstall, force bool
		dir              string
	)
	cmd := &cobra.Command{
		Use:   "install-skill",
		Short: "Install assistant instructions for driving inboxd",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if dir == "" {
				dir = skill.DefaultDir(a.Home)
			}
			in := skill.Installer{Dir: dir}
			var (
				status skill.Status
				err    error
			)
			if uninstall {
				status, err = in.Uninstall()
			} else {
				status, err = in.Install(force)
			}
			if err != nil {
				return err
			}
			return a.emit(map[string]string{"status": string(status), "path": in.Path()}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", status, in.Path())
			})
		},
	}
	cmd.Flags().BoolVar(&uninstall, "uninstall", false, "remove the instructions")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite a locally modified copy")
	cmd.Flags().StringVar(&dir, "dir", "", "install directory")
	return cmd
}
