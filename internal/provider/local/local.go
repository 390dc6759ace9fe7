// Package local is the filesystem-backed GenericDrive. It works on any
// go-billy filesystem: the OS (rooted at a directory) in production and an
// in-memory filesystem in tests. Verification tokens are SHA-256 digests.
package local

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
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/windsync/wind/internal/provider"
)

const (
	// Name identifies the provider in logs and endpoint syntax.
	Name = "local"

	hashAlgorithm = "sha256"
	dirPerms      = 0o755
	tempPrefix    = ".wind-upload-"
)

// Provider implements provider.Provider on a billy filesystem.
type Provider struct {
	fs     billy.Filesystem
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New wraps an existing filesystem.
func New(fsys billy.Filesystem, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Provider{fs: fsys, logger: logger}
}

// NewOS returns a provider rooted at dir on the OS filesystem.
func NewOS(dir string, logger *slog.Logger) *Provider {
	return New(osfs.New(dir), logger)
}

func (p *Provider) Name() string { return Name }

// List walks root recursively. RemoteID is the file's path.
func (p *Provider) List(ctx context.Context, root string, visit provider.VisitFunc) error {
	root = provider.CleanPath(root)

	err := util.Walk(p.fs, root, func(fpath string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && provider.CleanPath(fpath) == root {
				return fmt.Errorf("local: listing %s: %w", root, provider.ErrNotFound)
			}

			return fmt.Errorf("local: walking %s: %w", fpath, err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if info.IsDir() || !info.Mode().IsRegular() || isTempName(info.Name()) {
			return nil
		}

		return visit(recordFor(provider.CleanPath(fpath), info))
	})

	if errors.Is(err, provider.ErrStopList) {
		return nil
	}

	return err
}

// Stat returns the record at p or provider.ErrNotFound.
func (p *Provider) Stat(_ context.Context, fpath string) (provider.FileRecord, error) {
	fpath = provider.CleanPath(fpath)

	info, err := p.fs.Stat(fpath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return provider.FileRecord{}, fmt.Errorf("local: stat %s: %w", fpath, provider.ErrNotFound)
		}

		return provider.FileRecord{}, fmt.Errorf("local: stat %s: %w", fpath, err)
	}

	if info.IsDir() {
		return provider.FileRecord{}, fmt.Errorf("local: %s is a directory: %w", fpath, provider.ErrUnsupported)
	}

	return recordFor(fpath, info), nil
}

// Download copies the file content into w.
func (p *Provider) Download(ctx context.Context, rec provider.FileRecord, w io.Writer) (int64, error) {
	f, err := p.fs.Open(rec.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("local: opening %s: %w", rec.Path, provider.ErrNotFound)
		}

		return 0, fmt.Errorf("local: opening %s: %w", rec.Path, err)
	}
	defer f.Close()

	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return n, fmt.Errorf("local: reading %s: %w", rec.Path, err)
	}

	return n, nil
}

// Upload writes the local file to DestPath through a temp file and rename.
// Without Overwrite an existing destination is an error.
func (p *Provider) Upload(ctx context.Context, req provider.UploadRequest) (provider.UploadResult, error) {
	dest := provider.CleanPath(req.DestPath)

	if !req.Overwrite {
		if _, err := p.fs.Stat(dest); err == nil {
			return provider.UploadResult{}, fmt.Errorf("local: %s already exists", dest)
		}
	}

	src, err := os.Open(req.LocalPath)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("local: opening staged file: %w", err)
	}
	defer src.Close()

	dir := path.Dir(dest)
	if err := p.fs.MkdirAll(dir, dirPerms); err != nil {
		return provider.UploadResult{}, fmt.Errorf("local: creating %s: %w", dir, err)
	}

	tmp, err := p.fs.TempFile(dir, tempPrefix)
	if err != nil {
		return provider.UploadResult{}, fmt.Errorf("local: creating temp file in %s: %w", dir, err)
	}

	tmpName := tmp.Name()
	hasher := sha256.New()

	_, copyErr := io.Copy(io.MultiWriter(tmp, hasher), &ctxReader{ctx: ctx, r: src})
	closeErr := tmp.Close()

	if copyErr != nil || closeErr != nil {
		_ = p.fs.Remove(tmpName)

		return provider.UploadResult{}, fmt.Errorf("local: writing %s: %w", dest, errors.Join(copyErr, closeErr))
	}

	if req.Overwrite {
		if err := p.fs.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			_ = p.fs.Remove(tmpName)

			return provider.UploadResult{}, fmt.Errorf("local: replacing %s: %w", dest, err)
		}
	}

	if err := p.fs.Rename(tmpName, dest); err != nil {
		_ = p.fs.Remove(tmpName)

		return provider.UploadResult{}, fmt.Errorf("local: renaming into %s: %w", dest, err)
	}

	return provider.UploadResult{
		RemoteID: dest,
		Token:    provider.HashToken(hashAlgorithm, hex.EncodeToString(hasher.Sum(nil))),
	}, nil
}

// Verify re-hashes the stored file.
func (p *Provider) Verify(ctx context.Context, remoteID string) (provider.Token, error) {
	h := sha256.New()

	if _, err := p.Download(ctx, provider.FileRecord{Path: remoteID}, h); err != nil {
		return provider.Token{}, err
	}

	return provider.HashToken(hashAlgorithm, hex.EncodeToString(h.Sum(nil))), nil
}

// Expect returns the SHA-256 token of a local file.
func (p *Provider) Expect(localPath string) (provider.Token, error) {
	sum, err := provider.SHA256File(localPath)
	if err != nil {
		return provider.Token{}, err
	}

	return provider.HashToken(hashAlgorithm, sum), nil
}

// Delete removes the record's file.
func (p *Provider) Delete(_ context.Context, rec provider.FileRecord) error {
	if err := p.fs.Remove(rec.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("local: deleting %s: %w", rec.Path, provider.ErrNotFound)
		}

		return fmt.Errorf("local: deleting %s: %w", rec.Path, err)
	}

	p.logger.Debug("deleted source file", slog.String("path", rec.Path))

	return nil
}

func recordFor(fpath string, info os.FileInfo) provider.FileRecord {
	return provider.FileRecord{
		RemoteID: fpath,
		Path:     fpath,
		Name:     info.Name(),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

func isTempName(name string) bool {
	return len(name) >= len(tempPrefix) && name[:len(tempPrefix)] == tempPrefix
}

// ctxReader stops a copy once ctx is canceled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
