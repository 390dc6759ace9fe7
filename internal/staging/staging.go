// Package staging owns the temporary files that hold downloads in flight.
// Every staged file is removed once its task ends unless the area was
// created with Keep for diagnostics.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/windsync/wind/internal/provider"
)

const (
	tempPrefix = "wind-"
	dirPerms   = 0o700
	maxNameLen = 64
)

// Options configures an Area.
type Options struct {
	Dir     string
	Keep    bool
	Limiter *Limiter
	Logger  *slog.Logger
}

// Area is a scoped directory of in-flight downloads.
type Area struct {
	dir     string
	keep    bool
	limiter *Limiter
	logger  *slog.Logger
}

// NewArea creates the staging directory if needed. An empty Dir uses the OS
// temp directory.
func NewArea(opts Options) (*Area, error) {
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("staging: creating %s: %w", dir, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Area{dir: dir, keep: opts.Keep, limiter: opts.Limiter, logger: logger}, nil
}

// Dir returns the staging directory.
func (a *Area) Dir() string {
	return a.dir
}

// File is one staged download.
type File struct {
	Path   string
	Size   int64
	SHA256 string

	keep   bool
	logger *slog.Logger
	once   sync.Once
	err    error
}

// Remove deletes the staged file. Safe to call more than once.
func (f *File) Remove() error {
	f.once.Do(func() {
		if f.keep {
			f.logger.Info("keeping staged file", slog.String("path", f.Path))

			return
		}

		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = fmt.Errorf("staging: removing %s: %w", f.Path, err)
		}
	})

	return f.err
}

// Fetch downloads rec from p into a new staged file, hashing it on the way.
// On any failure the partial file is removed before returning.
func (a *Area) Fetch(ctx context.Context, p provider.Provider, rec provider.FileRecord) (*File, error) {
	tmp, err := os.CreateTemp(a.dir, tempPrefix+"*-"+safeName(rec.Name))
	if err != nil {
		return nil, fmt.Errorf("staging: creating temp file: %w", err)
	}

	staged := &File{Path: tmp.Name(), keep: a.keep, logger: a.logger}

	hasher := sha256.New()
	w := a.limiter.Writer(ctx, io.MultiWriter(tmp, hasher))

	n, dlErr := p.Download(ctx, rec, w)
	closeErr := tmp.Close()

	if dlErr == nil && closeErr != nil {
		dlErr = fmt.Errorf("staging: closing %s: %w", staged.Path, closeErr)
	}

	if dlErr != nil {
		// A failed download is never kept, even with Keep set.
		staged.keep = false
		if rmErr := staged.Remove(); rmErr != nil {
			a.logger.Warn("failed to remove partial download",
				slog.String("path", staged.Path),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, dlErr
	}

	staged.Size = n
	staged.SHA256 = hex.EncodeToString(hasher.Sum(nil))

	a.logger.Debug("download staged",
		slog.String("path", rec.Path),
		slog.String("staged", staged.Path),
		slog.Int64("bytes", n),
	)

	return staged, nil
}

// Sweep removes leftover staged files from earlier, interrupted runs.
func (a *Area) Sweep() (int, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, tempPrefix+"*"))
	if err != nil {
		return 0, fmt.Errorf("staging: scanning %s: %w", a.dir, err)
	}

	removed := 0

	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}

	if removed > 0 {
		a.logger.Info("removed stale staged files", slog.Int("count", removed))
	}

	return removed, nil
}

// safeName keeps the original file name recognizable in the temp name while
// stripping path separators.
func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r == 0 {
			return '_'
		}

		return r
	}, name)

	if len(name) > maxNameLen {
		name = name[len(name)-maxNameLen:]
	}

	if name == "" {
		name = "download"
	}

	return name
}
