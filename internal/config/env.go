package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/dshills/linemark/internal/blobstore"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "LINEMARK"

// EnvConfig holds environment overrides. Unset variables leave the
// corresponding field nil so they do not mask file values.
type EnvConfig struct {
	// Env: LINEMARK_MERGE_WINDOW
	MergeWindow *time.Duration `envconfig:"MERGE_WINDOW"`

	// Env: LINEMARK_FLUSH_DELAY
	FlushDelay *time.Duration `envconfig:"FLUSH_DELAY"`

	// Env: LINEMARK_STORE_BACKEND
	StoreBackend *string `envconfig:"STORE_BACKEND"`

	// Env: LINEMARK_STORE_PATH
	StorePath *string `envconfig:"STORE_PATH"`

	// Env: LINEMARK_DB_URL
	DBURL *string `envconfig:"DB_URL"`

	// Env: LINEMARK_STORE_WATCH
	StoreWatch *bool `envconfig:"STORE_WATCH"`

	// Env: LINEMARK_LOG_LEVEL
	LogLevel *string `envconfig:"LOG_LEVEL"`

	// Env: LINEMARK_LOG_FORMAT
	LogFormat *string `envconfig:"LOG_FORMAT"`
}

// LoadFromEnv reads LINEMARK_* environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var env EnvConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return EnvConfig{}, err
	}
	return env, nil
}

// Apply returns cfg with the set environment values applied.
func (e EnvConfig) Apply(cfg Config) Config {
	if e.MergeWindow != nil {
		cfg.Merge.Window = Duration(*e.MergeWindow)
	}
	if e.FlushDelay != nil {
		cfg.Persist.FlushDelay = Duration(*e.FlushDelay)
	}
	if e.StoreBackend != nil {
		cfg.Store.Backend = blobstore.Backend(*e.StoreBackend)
	}
	if e.StorePath != nil {
		cfg.Store.Path = *e.StorePath
	}
	if e.DBURL != nil {
		cfg.Store.DBURL = *e.DBURL
	}
	if e.StoreWatch != nil {
		cfg.Store.Watch = *e.StoreWatch
	}
	if e.LogLevel != nil {
		cfg.Log.Level = *e.LogLevel
	}
	if e.LogFormat != nil {
		cfg.Log.Format = *e.LogFormat
	}
	return cfg
}

// LoadDotEnv loads environment variables from a .env file.
// If path is empty, it loads from ".env" in the current directory.
// A missing file is not an error. Variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
