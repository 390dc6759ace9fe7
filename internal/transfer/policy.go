package transfer

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/windsync/wind/internal/provider"
)

// maxDuplicateSuffix bounds the " (n)" search so a pathological destination
// cannot stall planning.
const maxDuplicateSuffix = 10000

// Rule overrides the default policy for relative paths matching Pattern.
type Rule struct {
	Pattern string
	Policy  Policy
}

// Rules is the Duplicate Resolution Policy: a default plus ordered
// per-pattern overrides. The first matching rule wins.
type Rules struct {
	Default Policy
	Rules   []Rule
}

// For returns the policy for a source path relative to the source root.
func (r Rules) For(rel string) Policy {
	rel = strings.TrimPrefix(rel, "/")

	for _, rule := range r.Rules {
		if matchGlob(rule.Pattern, rel) {
			return rule.Policy
		}
	}

	if r.Default == "" {
		return PolicySkip
	}

	return r.Default
}

// duplicateName inserts " (n)" before the extension of p.
func duplicateName(p string, n int) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)

	// A leading-dot name like ".profile" has no extension to preserve.
	if ext == base {
		ext = ""
	}

	stem := strings.TrimSuffix(base, ext)

	return dir + fmt.Sprintf("%s (%d)%s", stem, n, ext)
}

// Filter selects which listed records are eligible for planning.
type Filter struct {
	Since   time.Time
	Include []string
	Exclude []string
	Record  func(provider.FileRecord) bool
}

// Allow reports whether rec (at rel below the source root) passes the
// filters, and which filter rejected it otherwise.
func (f Filter) Allow(rel string, rec provider.FileRecord) (bool, string) {
	if !f.Since.IsZero() && !rec.ModTime.After(f.Since) {
		return false, "not modified since cutoff"
	}

	rel = strings.TrimPrefix(rel, "/")

	if len(f.Include) > 0 && !matchAny(f.Include, rel) {
		return false, "not included"
	}

	if matchAny(f.Exclude, rel) {
		return false, "excluded"
	}

	if f.Record != nil && !f.Record(rec) {
		return false, "unsupported type"
	}

	return true, ""
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if matchGlob(p, rel) {
			return true
		}
	}

	return false
}

// matchGlob matches the full relative path, or only the base name for
// patterns without a separator, so "*.jpg" behaves the way users expect.
func matchGlob(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}

	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, path.Base(rel))

		return ok
	}

	return false
}
