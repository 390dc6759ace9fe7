package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides carries command-line values; nil pointers mean "not given".
type CLIOverrides struct {
	ConfigPath string
	Workers    *int
	StateDir   *string
	LogLevel   *string
}

// Load reads, decodes and validates a TOML config file. Unknown keys are
// errors with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain defaults -> file -> environment -> CLI
// and validates the result. It returns the config and the file path used.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	if env.StateDir != "" {
		cfg.StateDir = env.StateDir
	}

	if env.Workers > 0 {
		cfg.Transfer.Workers = env.Workers
	}

	if cli.Workers != nil {
		cfg.Transfer.Workers = *cli.Workers
	}

	if cli.StateDir != nil {
		cfg.StateDir = *cli.StateDir
	}

	if cli.LogLevel != nil {
		cfg.LogLevel = *cli.LogLevel
	}

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, fmt.Errorf("config validation: %w", err)
	}

	return cfg, cfgPath, nil
}
