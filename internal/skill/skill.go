// Package skill installs the assistant instruction file that describes how
// to drive inboxd.
package skill

import (
	"bytes"
	_ "embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joshsymonds/inboxd/internal/fault"
)

// FileName is the installed instruction file.
const FileName = "SKILL.md"

//go:embed SKILL.md
var content []byte

// Content returns the embedded instructions.
func Content() []byte { return bytes.Clone(content) }

// Status reports what Install did.
type Status string

const (
	Installed Status = "installed"
	Updated   Status = "updated"
	Unchanged Status = "unchanged"
	Removed   Status = "removed"
	Absent    Status = "absent"
)

// DefaultDir is where assistants look for user skills.
func DefaultDir(home string) string {
	return filepath.Join(home, ".claude", "skills", "inboxd")
}

// Installer manages the instruction file under Dir.
type Installer struct {
	Dir string
}

// Path is the installed file location.
func (in Installer) Path() string { return filepath.Join(in.Dir, FileName) }

// Install writes the instructions. A locally modified copy is kept unless
// force is set.
func (in Installer) Install(force bool) (Status, error) {
	existing, err := os.ReadFile(in.Path())
	switch {
	case err == nil && bytes.Equal(existing, content):
		return Unchanged, nil
	case err == nil && !force:
		return "", fault.Newf(fault.Invalid, "install skill",
			"%s exists and differs from this version; re-run with --force to overwrite", in.Path())
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", fault.New(fault.IOError, "install skill", err)
	}
	status := Installed
	if err == nil {
		status = Updated
	}
	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		return "", fault.New(fault.IOError, "install skill", err)
	}
	if err := os.WriteFile(in.Path(), content, 0o644); err != nil { // #nosec G306 - instructions are not secret
		return "", fault.New(fault.IOError, "install skill", err)
	}
	return status, nil
}

// Uninstall removes the instruction file and its directory when empty.
func (in Installer) Uninstall() (Status, error) {
	if err := os.Remove(in.Path()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Absent, nil
		}
		return "", fault.New(fault.IOError, "uninstall skill", err)
	}
	_ = os.Remove(in.Dir)
	return Removed, nil
}
