// Package testutil provides shared helpers for the end-to-end tests, which
// drive the built binary and so cannot reach into internal/.
package testutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// WriteTree creates files (slash-separated relative path -> content) under
// root, creating parent directories as needed.
func WriteTree(root string, files map[string]string) error {
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))

		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", name, err)
		}

		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	return nil
}

// ReadTree returns every regular file under root keyed by slash-separated
// relative path. Hidden files (leftover temp files included) are reported
// too, so callers can assert that none remain.
func ReadTree(root string) (map[string]string, error) {
	out := make(map[string]string)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		out[filepath.ToSlash(rel)] = string(body)

		return nil
	})

	return out, err
}
