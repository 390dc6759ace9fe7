package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "WIND_CONFIG"
	EnvLogLevel = "WIND_LOG_LEVEL"
	EnvStateDir = "WIND_STATE_DIR"
	EnvWorkers  = "WIND_WORKERS"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string
	LogLevel   string
	StateDir   string
	Workers    int
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files (default
// "./.env") into the process environment. Missing files are ignored and
// variables already set are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	return nil
}

// ReadEnvOverrides reads the WIND_* variables. An unparsable WIND_WORKERS
// is ignored.
func ReadEnvOverrides() EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
		StateDir:   os.Getenv(EnvStateDir),
	}

	if v := os.Getenv(EnvWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			env.Workers = n
		}
	}

	return env
}
