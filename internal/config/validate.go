package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Validation ranges.
const (
	minWorkers       = 1
	maxWorkers       = 64
	minRetries       = 1
	maxRetries       = 10
	minSaveEvery     = 1
	maxBatchSize     = 50
	minBatchInterval = 100 * time.Millisecond
)

var (
	validLogLevels   = []string{"debug", "info", "warn", "error"}
	validLogFormats  = []string{"auto", "text", "json"}
	validPolicies    = []string{"skip", "overwrite", "duplicate"}
	validDedupModes  = []string{"none", "filename", "hash", "filename+hash"}
	validPrecedences = []string{"fast-filename", "strict-hash"}
)

// Validate checks every value and returns all problems joined together.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLogging(cfg)...)
	errs = append(errs, validateTransfer(&cfg.Transfer)...)
	errs = append(errs, validatePhotos(&cfg.Photos)...)

	return errors.Join(errs...)
}

func validateLogging(cfg *Config) []error {
	var errs []error

	if !slices.Contains(validLogLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: must be one of %v, got %q", validLogLevels, cfg.LogLevel))
	}

	if !slices.Contains(validLogFormats, cfg.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format: must be one of %v, got %q", validLogFormats, cfg.LogFormat))
	}

	return errs
}

func validateTransfer(t *TransferConfig) []error {
	var errs []error

	if t.Workers < minWorkers || t.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("transfer.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, t.Workers))
	}

	if t.MaxRetries < minRetries || t.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("transfer.max_retries: must be between %d and %d, got %d",
			minRetries, maxRetries, t.MaxRetries))
	}

	errs = append(errs, validateDuration("transfer.retry_base_delay", t.RetryBaseDelay, 0)...)
	errs = append(errs, validateDuration("transfer.retry_max_delay", t.RetryMaxDelay, 0)...)

	if !slices.Contains(validPolicies, t.OnDuplicate) {
		errs = append(errs, fmt.Errorf("transfer.on_duplicate: must be one of %v, got %q", validPolicies, t.OnDuplicate))
	}

	if _, err := ParseRate(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfer.bandwidth_limit: %w", err))
	}

	for _, g := range slices.Concat(t.Include, t.Exclude) {
		if !doublestar.ValidatePattern(g) {
			errs = append(errs, fmt.Errorf("transfer: invalid glob pattern %q", g))
		}
	}

	for i, r := range t.DuplicateRules {
		if r.Pattern == "" || !doublestar.ValidatePattern(r.Pattern) {
			errs = append(errs, fmt.Errorf("transfer.duplicate_rules[%d]: invalid pattern %q", i, r.Pattern))
		}

		if !slices.Contains(validPolicies, r.Policy) {
			errs = append(errs, fmt.Errorf("transfer.duplicate_rules[%d]: policy must be one of %v, got %q",
				i, validPolicies, r.Policy))
		}
	}

	return errs
}

func validatePhotos(p *PhotosConfig) []error {
	var errs []error

	if !slices.Contains(validDedupModes, p.DedupMode) {
		errs = append(errs, fmt.Errorf("photos.dedup_mode: must be one of %v, got %q", validDedupModes, p.DedupMode))
	}

	if !slices.Contains(validPrecedences, p.DedupPrecedence) {
		errs = append(errs, fmt.Errorf("photos.dedup_precedence: must be one of %v, got %q",
			validPrecedences, p.DedupPrecedence))
	}

	if p.SaveEvery < minSaveEvery {
		errs = append(errs, fmt.Errorf("photos.save_every: must be at least %d, got %d", minSaveEvery, p.SaveEvery))
	}

	if p.BatchSize < 1 || p.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("photos.batch_size: must be between 1 and %d, got %d", maxBatchSize, p.BatchSize))
	}

	errs = append(errs, validateDuration("photos.batch_interval", p.BatchInterval, minBatchInterval)...)

	return errs
}

func validateDuration(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d <= 0 || d < minimum {
		return []error{fmt.Errorf("%s: must be positive and at least %s, got %s", field, minimum, d)}
	}

	return nil
}
