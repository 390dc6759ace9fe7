// Package dedup decides whether a source file is already materialized at the
// destination, by filename, content hash, both, or not at all.
package dedup

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Mode selects the dedup strategy.
type Mode string

const (
	ModeNone         Mode = "none"
	ModeFilename     Mode = "filename"
	ModeHash         Mode = "hash"
	ModeFilenameHash Mode = "filename+hash"
)

// Precedence resolves how filename+hash combines its two checks.
type Precedence string

const (
	// PrecedenceFastFilename skips on a filename match without hashing.
	PrecedenceFastFilename Precedence = "fast-filename"
	// PrecedenceStrictHash never skips on a filename alone; the hash decides.
	PrecedenceStrictHash Precedence = "strict-hash"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeNone, ModeFilename, ModeHash, ModeFilenameHash:
		return m, nil
	case "filename_hash", "both":
		return ModeFilenameHash, nil
	default:
		return "", fmt.Errorf("dedup: unknown mode %q (want none, filename, hash or filename+hash)", s)
	}
}

// ParsePrecedence validates a precedence name.
func ParsePrecedence(s string) (Precedence, error) {
	switch p := Precedence(strings.ToLower(strings.TrimSpace(s))); p {
	case PrecedenceFastFilename, PrecedenceStrictHash:
		return p, nil
	case "":
		return PrecedenceFastFilename, nil
	default:
		return "", fmt.Errorf("dedup: unknown precedence %q (want fast-filename or strict-hash)", s)
	}
}

// Entry records one item known at the destination.
type Entry struct {
	Key      string
	RemoteID string
	LastSeen time.Time
}

// Verdict explains a dedup decision.
type Verdict struct {
	Duplicate bool
	Reason    string
}

// Reasons reported in verdicts and dry-run output.
const (
	ReasonFilename = "filename match"
	ReasonHash     = "hash match"
)

// Index is the run-scoped dedup index. Safe for concurrent use.
type Index struct {
	mode       Mode
	precedence Precedence
	now        func() time.Time

	mu        sync.RWMutex
	filenames map[string]Entry
	hashes    map[string]Entry
	recorded  []string
}

// NewIndex creates an index seeded with the destination's filenames and the
// content hashes already confirmed uploaded.
func NewIndex(mode Mode, precedence Precedence, filenames, hashes []string) *Index {
	if precedence == "" {
		precedence = PrecedenceFastFilename
	}

	ix := &Index{
		mode:       mode,
		precedence: precedence,
		now:        time.Now,
		filenames:  make(map[string]Entry, len(filenames)),
		hashes:     make(map[string]Entry, len(hashes)),
	}

	for _, n := range filenames {
		key := NormalizeName(n)
		ix.filenames[key] = Entry{Key: key}
	}

	for _, h := range hashes {
		key := normalizeHash(h)
		ix.hashes[key] = Entry{Key: key}
	}

	return ix
}

// Mode returns the configured mode.
func (ix *Index) Mode() Mode {
	return ix.mode
}

// Precedence returns the configured filename+hash precedence.
func (ix *Index) Precedence() Precedence {
	return ix.precedence
}

// NeedsContentHash reports whether a decision may require the file's content
// hash, which means downloading it when the listing did not supply one.
func (ix *Index) NeedsContentHash() bool {
	return ix.mode == ModeHash || ix.mode == ModeFilenameHash
}

// Before decides using what is known before any download: the file name and,
// when the listing supplied it, the content hash. A non-duplicate verdict in
// a hash mode is provisional until After runs on the downloaded content.
func (ix *Index) Before(name, hash string) Verdict {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	switch ix.mode {
	case ModeFilename:
		if ix.hasNameLocked(name) {
			return Verdict{Duplicate: true, Reason: ReasonFilename}
		}
	case ModeHash:
		if ix.hasHashLocked(hash) {
			return Verdict{Duplicate: true, Reason: ReasonHash}
		}
	case ModeFilenameHash:
		if ix.precedence == PrecedenceFastFilename && ix.hasNameLocked(name) {
			return Verdict{Duplicate: true, Reason: ReasonFilename}
		}

		if ix.hasHashLocked(hash) {
			return Verdict{Duplicate: true, Reason: ReasonHash}
		}
	}

	return Verdict{}
}

// After decides on the hash of freshly downloaded content.
func (ix *Index) After(hash string) Verdict {
	if !ix.NeedsContentHash() {
		return Verdict{}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.hasHashLocked(hash) {
		return Verdict{Duplicate: true, Reason: ReasonHash}
	}

	return Verdict{}
}

// Record adds a confirmed upload. Both keys are recorded in every mode so
// that a later run in another mode still sees the item.
func (ix *Index) Record(name, hash, remoteID string) {
	now := ix.now()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if name != "" {
		key := NormalizeName(name)
		ix.filenames[key] = Entry{Key: key, RemoteID: remoteID, LastSeen: now}
		ix.recorded = append(ix.recorded, name)
	}

	if hash != "" {
		key := normalizeHash(hash)
		ix.hashes[key] = Entry{Key: key, RemoteID: remoteID, LastSeen: now}
	}
}

// Lookup returns the entry for a filename, if present.
func (ix *Index) Lookup(name string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.filenames[NormalizeName(name)]

	return e, ok
}

// Recorded returns the filenames of uploads confirmed during this run,
// spelled as they were recorded.
func (ix *Index) Recorded() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return slices.Clone(ix.recorded)
}

func (ix *Index) hasNameLocked(name string) bool {
	if name == "" {
		return false
	}

	_, ok := ix.filenames[NormalizeName(name)]

	return ok
}

func (ix *Index) hasHashLocked(hash string) bool {
	if hash == "" {
		return false
	}

	_, ok := ix.hashes[normalizeHash(hash)]

	return ok
}

// NormalizeName applies Unicode NFC so that names produced on macOS (NFD)
// compare equal to the same names from other systems.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
