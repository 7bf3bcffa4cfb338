package jsonstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joshsymonds/inboxd/internal/fault"
)

type doc struct {
	Name  string            `json:"name"`
	Count int               `json:"count"`
	Tags  []string          `json:"tags"`
	Extra map[string]string `json:"extra"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	want := doc{Name: "a", Count: 3, Tags: []string{"x", "y"}, Extra: map[string]string{"k": "v"}}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := Read(path, doc{})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestReadDefaults(t *testing.T) {
	dir := t.TempDir()
	def := doc{Name: "default"}

	if got := Read(filepath.Join(dir, "missing.json"), def); got.Name != "default" {
		t.Fatalf("missing file: got %+v", got)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := Read(bad, def); got.Name != "default" {
		t.Fatalf("malformed file: got %+v", got)
	}
	data, err := os.ReadFile(bad)
	if err != nil || string(data) != "{not json" {
		t.Fatalf("malformed file was rewritten: %q %v", data, err)
	}
}

func TestUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	for i := 0; i < 3; i++ {
		err := Update(path, doc{}, func(d doc) (doc, error) {
			d.Count++
			return d, nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if got := Read(path, doc{}); got.Count != 3 {
		t.Fatalf("count = %d, want 3", got.Count)
	}
}

func TestUpdateLeavesMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	const corrupt = `{"name":"keep","count":`
	if err := os.WriteFile(path, []byte(corrupt), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	called := false
	err := Update(path, doc{}, func(d doc) (doc, error) {
		called = true
		return d, nil
	})
	if !fault.Is(err, fault.IOError) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if called {
		t.Fatal("update func ran over a malformed document")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != corrupt {
		t.Fatalf("malformed file was rewritten: %q %v", data, err)
	}

	if _, err := ReadStrict(filepath.Join(filepath.Dir(path), "missing.json"), doc{}); err != nil {
		t.Fatalf("missing file should read as default: %v", err)
	}
}

func TestAppendAndReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	if err := AppendLines(path, doc{Name: "a"}, doc{Name: "b"}); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}
	if err := AppendLines(path, doc{Name: "c"}); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}
	lines, err := ReadLines(path)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if err := WriteLines(path, lines[1:]); err != nil {
		t.Fatalf("WriteLines: %v", err)
	}
	lines, err = ReadLines(path)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 2 || string(lines[0]) != `{"name":"b","count":0,"tags":null,"extra":null}` {
		t.Fatalf("unexpected lines after trim: %q", lines)
	}
}
