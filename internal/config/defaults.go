package config

// Default values applied before the config file is decoded.
const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultWorkers         = 10
	defaultMaxRetries      = 3
	defaultRetryBaseDelay  = "2s"
	defaultRetryMaxDelay   = "60s"
	defaultOnDuplicate     = "skip"
	defaultBandwidthLimit  = "0"
	defaultDedupMode       = "filename"
	defaultDedupPrecedence = "fast-filename"
	defaultSaveEvery       = 25
	defaultBatchSize       = 50
	defaultBatchInterval   = "3s"
)

// DefaultConfig returns a Config populated with every default.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Transfer: TransferConfig{
			Workers:        defaultWorkers,
			MaxRetries:     defaultMaxRetries,
			RetryBaseDelay: defaultRetryBaseDelay,
			RetryMaxDelay:  defaultRetryMaxDelay,
			OnDuplicate:    defaultOnDuplicate,
			BandwidthLimit: defaultBandwidthLimit,
		},
		Photos: PhotosConfig{
			DedupMode:       defaultDedupMode,
			DedupPrecedence: defaultDedupPrecedence,
			SaveEvery:       defaultSaveEvery,
			BatchSize:       defaultBatchSize,
			BatchInterval:   defaultBatchInterval,
		},
	}
}
