// Package resume persists which source items were confirmed uploaded, so a
// restarted run skips them. State is two sorted JSON arrays (remote ids and
// SHA-256 content hashes) replaced atomically on every flush.
package resume

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/windsync/wind/internal/jsonfile"
)

// File names inside the state directory.
const (
	IDsFile    = "uploaded_ids.json"
	HashesFile = "uploaded_hashes.json"
)

// DefaultSaveEvery is the flush cadence when none is configured.
const DefaultSaveEvery = 25

// State is an immutable snapshot of the store.
type State struct {
	ProcessedIDs  []string
	ContentHashes []string
}

// Store is the run-scoped resume record. Safe for concurrent use.
type Store struct {
	idsPath    string
	hashesPath string
	saveEvery  int
	logger     *slog.Logger

	mu      sync.Mutex
	ids     map[string]struct{}
	hashes  map[string]struct{}
	pending int
	flushes int
}

// Open loads the store from dir. Missing files start an empty store.
func Open(dir string, saveEvery int, logger *slog.Logger) (*Store, error) {
	if saveEvery <= 0 {
		saveEvery = DefaultSaveEvery
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		idsPath:    filepath.Join(dir, IDsFile),
		hashesPath: filepath.Join(dir, HashesFile),
		saveEvery:  saveEvery,
		logger:     logger,
		ids:        make(map[string]struct{}),
		hashes:     make(map[string]struct{}),
	}

	if err := load(s.idsPath, s.ids); err != nil {
		return nil, err
	}

	if err := load(s.hashesPath, s.hashes); err != nil {
		return nil, err
	}

	logger.Debug("resume state loaded",
		slog.String("dir", dir),
		slog.Int("ids", len(s.ids)),
		slog.Int("hashes", len(s.hashes)),
	)

	return s, nil
}

func load(path string, into map[string]struct{}) error {
	var entries []string
	if _, err := jsonfile.Read(path, &entries); err != nil {
		return fmt.Errorf("resume: loading %s: %w", filepath.Base(path), err)
	}

	for _, e := range entries {
		if e != "" {
			into[e] = struct{}{}
		}
	}

	return nil
}

// HasID reports whether remoteID was confirmed uploaded.
func (s *Store) HasID(remoteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ids[remoteID]

	return ok
}

// HasHash reports whether a file with this content hash was confirmed uploaded.
func (s *Store) HasHash(hash string) bool {
	if hash == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.hashes[hash]

	return ok
}

// Record adds one confirmed upload. Call it only after the destination has
// verified the item. Every saveEvery records trigger a flush.
func (s *Store) Record(remoteID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if remoteID != "" {
		s.ids[remoteID] = struct{}{}
	}

	if hash != "" {
		s.hashes[hash] = struct{}{}
	}

	s.pending++
	if s.pending < s.saveEvery {
		return nil
	}

	return s.flushLocked()
}

// Flush writes the whole state to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if err := jsonfile.Write(s.idsPath, sortedKeys(s.ids)); err != nil {
		return fmt.Errorf("resume: saving ids: %w", err)
	}

	if err := jsonfile.Write(s.hashesPath, sortedKeys(s.hashes)); err != nil {
		return fmt.Errorf("resume: saving hashes: %w", err)
	}

	s.flushes++
	s.logger.Debug("resume state flushed",
		slog.Int("ids", len(s.ids)),
		slog.Int("hashes", len(s.hashes)),
		slog.Int("since_last_flush", s.pending),
	)
	s.pending = 0

	return nil
}

// Flushes returns how many times the store has been written.
func (s *Store) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushes
}

// Snapshot returns the current in-memory state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		ProcessedIDs:  sortedKeys(s.ids),
		ContentHashes: sortedKeys(s.hashes),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}
