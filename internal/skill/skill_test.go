package skill

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/joshsymonds/inboxd/internal/fault"
)

func TestInstallLifecycle(t *testing.T) {
	in := Installer{Dir: filepath.Join(t.TempDir(), "skills", "inboxd")}

	steps := []struct {
		name string
		do   func() (Status, error)
		want Status
	}{
		{"fresh", func() (Status, error) { return in.Install(false) }, Installed},
		{"again", func() (Status, error) { return in.Install(false) }, Unchanged},
		{"remove", in.Uninstall, Removed},
		{"remove twice", in.Uninstall, Absent},
	}
	for _, s := range steps {
		got, err := s.do()
		if err != nil || got != s.want {
			t.Fatalf("%s: got %q, %v; want %q", s.name, got, err, s.want)
		}
	}
	if _, err := os.Stat(in.Dir); !os.IsNotExist(err) {
		t.Fatalf("empty dir should be removed: %v", err)
	}
}

func TestInstallKeepsLocalEdits(t *testing.T) {
	in := Installer{Dir: t.TempDir()}
	if err := os.WriteFile(in.Path(), []byte("my notes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Install(false); fault.KindOf(err) != fault.Invalid {
		t.Fatalf("expected refusal, got %v", err)
	}
	got, err := in.Install(true)
	if err != nil || got != Updated {
		t.Fatalf("forced install = %q, %v", got, err)
	}
	onDisk, _ := os.ReadFile(in.Path())
	if !bytes.Equal(onDisk, Content()) {
		t.Fatal("forced install did not write embedded content")
	}
}
