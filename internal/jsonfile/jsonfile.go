// Package jsonfile reads and atomically replaces the small JSON state files
// kept in the state directory.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrCorrupt is returned when a state file exists but is not valid JSON.
var ErrCorrupt = errors.New("jsonfile: corrupt state file")

const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// Read decodes the file at path into v. Returns false with no error when the
// file does not exist.
func Read(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("jsonfile: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}

	return true, nil
}

// Write replaces path with the JSON encoding of v: the data goes to a
// sibling temp file which is synced and renamed over the old file.
func Write(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("jsonfile: creating %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encoding %s: %w", path, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: creating temp file: %w", err)
	}

	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("jsonfile: writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("jsonfile: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("jsonfile: closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("jsonfile: setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup

		return fmt.Errorf("jsonfile: renaming temp file: %w", err)
	}

	return nil
}
