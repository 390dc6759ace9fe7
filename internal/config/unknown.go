package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean?" suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section; "" is the top level.
var knownKeys = map[string][]string{
	"": {"log_level", "log_format", "state_dir", "temp_dir", "keep_temp",
		"transfer", "photos", "onedrive", "gdrive", "s3"},
	"transfer": {"workers", "max_retries", "retry_base_delay", "retry_max_delay", "on_duplicate",
		"bandwidth_limit", "include", "exclude", "duplicate_rules"},
	"transfer.duplicate_rules": {"pattern", "policy"},
	"photos": {"dedup_mode", "dedup_precedence", "save_every", "batch_size", "batch_interval",
		"client_id", "client_secret", "token_file"},
	"onedrive": {"client_id", "token_file"},
	"gdrive":   {"client_id", "client_secret", "token_file"},
	"s3":       {"region", "profile", "endpoint", "path_style"},
}

// checkUnknownKeys reports every undecoded key, suggesting the closest valid
// key of the same section.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section := ""
	leaf := key[len(key)-1]

	if len(key) > 1 {
		section = strings.Join(key[:len(key)-1], ".")
	}

	candidates, ok := knownKeys[section]
	if !ok {
		// Unknown section: report its first component against the top level.
		leaf = key[0]
		candidates = knownKeys[""]
		section = ""
	}

	display := leaf
	if section != "" {
		display = section + "." + leaf
	}

	if suggestion := closestMatch(leaf, candidates); suggestion != "" {
		return fmt.Errorf("unknown config key %q: did you mean %q?", display, suggestion)
	}

	return fmt.Errorf("unknown config key %q", display)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns "" when nothing is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	sorted := slices.Clone(known)
	slices.Sort(sorted)

	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range sorted {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
