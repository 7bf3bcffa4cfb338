// Package jsonstore persists whole-file JSON documents and JSON-lines logs
// under the inboxd config directory.
//
// Plain reads never fail: missing or unreadable state is interpreted as
// empty. Updates refuse to touch a file they cannot decode, so malformed
// state stays on disk for inspection. Writes go through a temp file, fsync and rename so readers observe either
// the previous or the next document, never a torn one.
package jsonstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joshsymonds/inboxd/internal/fault"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// Read returns the document at path decoded into a fresh T, or def when
// the file is missing, unreadable or malformed. Malformed files produce a
// single warning and are left untouched for inspection.
func Read[T any](path string, def T) T {
	data, err := os.ReadFile(path) // #nosec G304 - paths are built from the config dir
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("state file unreadable, using empty default", "path", path, "error", err)
		}
		return def
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return def
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		slog.Warn("state file malformed, using empty default", "path", path, "error", err)
		return def
	}
	return out
}

// ReadStrict is Read for callers about to write the document back: a
// missing or empty file yields def, but an unreadable or malformed one is
// an IOError.
func ReadStrict[T any](path string, def T) (T, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return def, nil
		}
		return def, fault.New(fault.IOError, "read "+filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return def, nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return def, fault.New(fault.IOError, "read "+filepath.Base(path),
			fmt.Errorf("%s is malformed and was left untouched: %w", path, err))
	}
	return out, nil
}

// Write atomically replaces path with the JSON encoding of v.
func Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode) // #nosec G304
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Update runs fn over the current document under an exclusive lock and
// writes the result back. A malformed document is never overwritten.
func Update[T any](path string, def T, fn func(T) (T, error)) error {
	unlock, err := Lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := ReadStrict(path, def)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	return Write(path, next)
}

// AppendLines appends one JSON record per line to path.
func AppendLines(path string, records ...any) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s record: %w", filepath.Base(path), err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode) // #nosec G304
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// ReadLines returns the raw non-empty lines of a JSON-lines file.
func ReadLines(path string) ([][]byte, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, nil
}

// WriteLines atomically replaces a JSON-lines file with the given lines.
func WriteLines(path string, lines [][]byte) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return writeAtomic(path, buf.Bytes())
}
