package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/provider/local"
	"github.com/windsync/wind/internal/retry"
	"github.com/windsync/wind/internal/staging"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Sleep: noSleep}
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// tree is a directory on disk served by the local provider.
type tree struct {
	dir string
	*local.Provider
}

func newTree(t *testing.T, files map[string]string) *tree {
	t.Helper()

	dir := t.TempDir()
	for p, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	return &tree{dir: dir, Provider: local.NewOS(dir, nil)}
}

func (tr *tree) read(t *testing.T, p string) (string, bool) {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(tr.dir, filepath.FromSlash(p)))
	if os.IsNotExist(err) {
		return "", false
	}

	require.NoError(t, err)

	return string(data), true
}

// counting wraps a provider, counts mutating and I/O calls, and lets tests
// inject failures.
type counting struct {
	provider.Provider

	downloads atomic.Int32
	uploads   atomic.Int32
	deletes   atomic.Int32
	stats     atomic.Int32

	uploadErr func(call int32, req provider.UploadRequest) error
	expect    func(localPath string) (provider.Token, error)
	deleteErr error
}

func wrap(p provider.Provider) *counting {
	return &counting{Provider: p}
}

func (c *counting) Download(ctx context.Context, rec provider.FileRecord, w io.Writer) (int64, error) {
	c.downloads.Add(1)

	return c.Provider.Download(ctx, rec, w)
}

func (c *counting) Upload(ctx context.Context, req provider.UploadRequest) (provider.UploadResult, error) {
	n := c.uploads.Add(1)
	if c.uploadErr != nil {
		if err := c.uploadErr(n, req); err != nil {
			return provider.UploadResult{}, err
		}
	}

	return c.Provider.Upload(ctx, req)
}

func (c *counting) Delete(ctx context.Context, rec provider.FileRecord) error {
	c.deletes.Add(1)
	if c.deleteErr != nil {
		return c.deleteErr
	}

	return c.Provider.Delete(ctx, rec)
}

func (c *counting) Stat(ctx context.Context, p string) (provider.FileRecord, error) {
	c.stats.Add(1)

	return c.Provider.Stat(ctx, p)
}

func (c *counting) Expect(localPath string) (provider.Token, error) {
	if c.expect != nil {
		return c.expect(localPath)
	}

	return c.Provider.Expect(localPath)
}

// hashing makes a provider's listing carry content hashes, the way drives
// that report SHA-256 in metadata do.
type hashing struct {
	provider.Provider
}

func (h hashing) List(ctx context.Context, root string, visit provider.VisitFunc) error {
	return h.Provider.List(ctx, root, func(rec provider.FileRecord) error {
		hasher := sha256.New()
		if _, err := h.Provider.Download(ctx, rec, hasher); err != nil {
			return err
		}

		return visit(rec.WithHash(hex.EncodeToString(hasher.Sum(nil))))
	})
}

func newStaging(t *testing.T) *staging.Area {
	t.Helper()

	area, err := staging.NewArea(staging.Options{Dir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, err)

	return area
}

func baseOptions(t *testing.T, src, dst provider.Provider) Options {
	t.Helper()

	return Options{
		Source:     src,
		Dest:       dst,
		SourceRoot: "/src",
		DestRoot:   "/dst",
		Mode:       ModeCopy,
		Workers:    4,
		Retry:      testRetry(),
		Staging:    newStaging(t),
		Logger:     testLogger(),
	}
}
