package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/linemark/internal/blobstore"
	"github.com/dshills/linemark/internal/config/loader"
	"github.com/dshills/linemark/internal/engine/coalesce"
	"github.com/dshills/linemark/internal/writeback"
)

// Default values.
const (
	DefaultBackend   = blobstore.BackendFile
	DefaultStorePath = ".linemark/state.json"
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
)

// Duration is a time.Duration written as a string such as "5m" or "300ms"
// in config files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in Go syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare number is
// read as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		parsed = time.Duration(secs * float64(time.Second))
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Config is the complete linemark configuration.
type Config struct {
	Merge   MergeConfig   `toml:"merge" yaml:"merge"`
	Persist PersistConfig `toml:"persist" yaml:"persist"`
	Store   StoreConfig   `toml:"store" yaml:"store"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// MergeConfig controls range coalescing.
type MergeConfig struct {
	// Window is how close in time two marks must be to merge. Zero
	// disables merging.
	Window Duration `toml:"window" yaml:"window"`
}

// PersistConfig controls the write-behind cache.
type PersistConfig struct {
	// FlushDelay is the quiet period before dirty records are written.
	FlushDelay Duration `toml:"flushDelay" yaml:"flushDelay"`
}

// StoreConfig selects the blob store.
type StoreConfig struct {
	Backend blobstore.Backend `toml:"backend" yaml:"backend"`
	// Path is the JSON state file for the file backend.
	Path string `toml:"path" yaml:"path"`
	// DBURL is the database URL for the sqlite and postgres backends.
	DBURL string `toml:"dbURL" yaml:"dbURL"`
	// Watch reloads clean documents when the state file changes on disk.
	Watch bool `toml:"watch" yaml:"watch"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Merge:   MergeConfig{Window: Duration(coalesce.DefaultWindow)},
		Persist: PersistConfig{FlushDelay: Duration(writeback.DefaultDelay)},
		Store: StoreConfig{
			Backend: DefaultBackend,
			Path:    DefaultStorePath,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Location returns the file path or database URL for the selected backend.
func (c Config) Location() string {
	switch c.Store.Backend {
	case blobstore.BackendFile:
		return c.Store.Path
	case blobstore.BackendSQLite, blobstore.BackendPostgres:
		return c.Store.DBURL
	default:
		return ""
	}
}

// Validate checks the configuration and reports every problem found.
func (c Config) Validate() error {
	var errs []error
	add := func(path, msg string, value any, code ValidationErrorCode) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value, Code: code})
	}

	if c.Merge.Window < 0 {
		add("merge.window", "must not be negative", c.Merge.Window, ErrCodeOutOfRange)
	}
	if c.Persist.FlushDelay < 0 {
		add("persist.flushDelay", "must not be negative", c.Persist.FlushDelay, ErrCodeOutOfRange)
	}

	switch c.Store.Backend {
	case blobstore.BackendMemory:
	case blobstore.BackendFile:
		if c.Store.Path == "" {
			add("store.path", "required for the file backend", c.Store.Path, ErrCodeRequiredMissing)
		}
	case blobstore.BackendSQLite, blobstore.BackendPostgres:
		if c.Store.DBURL == "" {
			add("store.dbURL", "required for the "+string(c.Store.Backend)+" backend", c.Store.DBURL, ErrCodeRequiredMissing)
		}
	default:
		add("store.backend", "must be one of memory, file, sqlite, postgres", c.Store.Backend, ErrCodeInvalidEnum)
	}
	if c.Store.Watch && c.Store.Backend != blobstore.BackendFile {
		add("store.watch", "only supported by the file backend", c.Store.Watch, ErrCodeInvalidEnum)
	}

	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		add("log.level", "must be one of DEBUG, INFO, WARN, ERROR", c.Log.Level, ErrCodeInvalidEnum)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "must be text or json", c.Log.Format, ErrCodeInvalidEnum)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
}

// Load builds the configuration from defaults, the file at path (if path
// is not empty) and LINEMARK_* environment variables, in that order, then
// validates it.
func Load(path string) (Config, error) {
	return LoadFS(loader.DefaultFS(), path)
}

// LoadFS is Load reading the config file from fsys.
func LoadFS(fsys loader.FileSystem, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		l, err := loader.ForPath(fsys, path)
		if err != nil {
			return Config{}, err
		}
		if err := l.Decode(path, &cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return Config{}, err
		}
	}

	env, err := LoadFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = env.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
