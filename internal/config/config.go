// Package config loads wind's TOML configuration, applies environment and
// command-line overrides, and validates the result.
package config

import (
	"path/filepath"
	"time"
)

// Config is the whole configuration file.
type Config struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	StateDir  string `toml:"state_dir"`
	TempDir   string `toml:"temp_dir"`
	KeepTemp  bool   `toml:"keep_temp"`

	Transfer TransferConfig `toml:"transfer"`
	Photos   PhotosConfig   `toml:"photos"`
	OneDrive OneDriveConfig `toml:"onedrive"`
	GDrive   GDriveConfig   `toml:"gdrive"`
	S3       S3Config       `toml:"s3"`
}

// TransferConfig controls the transfer pipeline.
type TransferConfig struct {
	Workers        int             `toml:"workers"`
	MaxRetries     int             `toml:"max_retries"`
	RetryBaseDelay string          `toml:"retry_base_delay"`
	RetryMaxDelay  string          `toml:"retry_max_delay"`
	OnDuplicate    string          `toml:"on_duplicate"`
	BandwidthLimit string          `toml:"bandwidth_limit"`
	Include        []string        `toml:"include"`
	Exclude        []string        `toml:"exclude"`
	DuplicateRules []DuplicateRule `toml:"duplicate_rules"`
}

// DuplicateRule overrides the duplicate policy for paths matching Pattern.
type DuplicateRule struct {
	Pattern string `toml:"pattern"`
	Policy  string `toml:"policy"`
}

// PhotosConfig controls the bulk uploader into the photo library.
type PhotosConfig struct {
	DedupMode       string `toml:"dedup_mode"`
	DedupPrecedence string `toml:"dedup_precedence"`
	SaveEvery       int    `toml:"save_every"`
	BatchSize       int    `toml:"batch_size"`
	BatchInterval   string `toml:"batch_interval"`
	ClientID        string `toml:"client_id"`
	ClientSecret    string `toml:"client_secret"`
	TokenFile       string `toml:"token_file"`
}

// OneDriveConfig holds the Microsoft Graph credentials.
type OneDriveConfig struct {
	ClientID  string `toml:"client_id"`
	TokenFile string `toml:"token_file"`
}

// GDriveConfig holds the Google Drive credentials.
type GDriveConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenFile    string `toml:"token_file"`
}

// S3Config selects the AWS profile and endpoint for s3:// endpoints.
type S3Config struct {
	Region    string `toml:"region"`
	Profile   string `toml:"profile"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

// StatePath returns the state directory, falling back to the platform data dir.
func (c *Config) StatePath() string {
	if c.StateDir != "" {
		return expandHome(c.StateDir)
	}

	return DefaultDataDir()
}

// TokenPath resolves a provider token file. Relative and empty values live
// under the state directory's tokens folder.
func (c *Config) TokenPath(configured, provider string) string {
	if configured == "" {
		return filepath.Join(c.StatePath(), tokensSubdir, provider+".json")
	}

	configured = expandHome(configured)
	if filepath.IsAbs(configured) {
		return configured
	}

	return filepath.Join(c.StatePath(), tokensSubdir, configured)
}

// RetryDelays returns the parsed backoff bounds. Call after Validate.
func (t *TransferConfig) RetryDelays() (base, maxDelay time.Duration) {
	base, _ = time.ParseDuration(t.RetryBaseDelay)
	maxDelay, _ = time.ParseDuration(t.RetryMaxDelay)

	return base, maxDelay
}

// Interval returns the parsed batch flush interval. Call after Validate.
func (p *PhotosConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(p.BatchInterval)

	return d
}

// BandwidthBytes returns the bandwidth limit in bytes per second, 0 for none.
func (t *TransferConfig) BandwidthBytes() int64 {
	n, _ := ParseRate(t.BandwidthLimit)

	return n
}
