package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/windsync/wind/internal/jsonfile"
)

// CacheFile is the filename cache's name inside the state directory.
const CacheFile = "photos_filename_cache.json"

// Snapshot is the on-disk filename cache.
type Snapshot struct {
	LastUpdated time.Time `json:"last_updated"`
	Filenames   []string  `json:"filenames"`
	ItemCount   int       `json:"item_count"`
}

// NameLister enumerates the filenames present in a destination library.
type NameLister interface {
	ListFilenames(ctx context.Context) ([]string, error)
}

// Cache persists the destination filename snapshot between runs.
type Cache struct {
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// NewCache creates a cache stored in dir.
func NewCache(dir string, logger *slog.Logger) *Cache {
	return &Cache{
		path:   filepath.Join(dir, CacheFile),
		now:    time.Now,
		logger: logger,
	}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Load reads the snapshot. ok is false when no cache exists yet.
func (c *Cache) Load() (Snapshot, bool, error) {
	var snap Snapshot

	ok, err := jsonfile.Read(c.path, &snap)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("dedup: loading filename cache: %w", err)
	}

	return snap, ok, nil
}

// Save writes a snapshot of names, sorted and deduplicated.
func (c *Cache) Save(names []string) (Snapshot, error) {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	snap := Snapshot{
		LastUpdated: c.now().UTC(),
		Filenames:   sorted,
		ItemCount:   len(sorted),
	}

	if err := jsonfile.Write(c.path, snap); err != nil {
		return Snapshot{}, fmt.Errorf("dedup: saving filename cache: %w", err)
	}

	return snap, nil
}

// Refresh rescans the library and replaces the cache.
func (c *Cache) Refresh(ctx context.Context, lister NameLister) (Snapshot, error) {
	c.logger.Info("scanning destination library for existing filenames")

	names, err := lister.ListFilenames(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("dedup: scanning library: %w", err)
	}

	snap, err := c.Save(names)
	if err != nil {
		return Snapshot{}, err
	}

	c.logger.Info("filename cache refreshed",
		slog.Int("items", snap.ItemCount),
		slog.String("path", c.path),
	)

	return snap, nil
}

// Ensure returns the cached snapshot, scanning the library first when the
// cache is missing or refresh is requested.
func (c *Cache) Ensure(ctx context.Context, lister NameLister, refresh bool) (Snapshot, error) {
	if !refresh {
		snap, ok, err := c.Load()
		if err != nil {
			c.logger.Warn("ignoring unreadable filename cache",
				slog.String("path", c.path),
				slog.String("error", err.Error()),
			)
		} else if ok {
			c.logger.Debug("using cached library filenames",
				slog.Int("items", snap.ItemCount),
				slog.Time("last_updated", snap.LastUpdated),
			)

			return snap, nil
		}
	}

	return c.Refresh(ctx, lister)
}
