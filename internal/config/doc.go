// Package config provides the configuration for linemark.
//
// Configuration is resolved in layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Environment Variables   │  ← LINEMARK_*, highest priority
//	├─────────────────────────────┤
//	│  3. .env File               │  ← loaded into the environment
//	├─────────────────────────────┤
//	│  2. Config File             │  ← TOML or YAML
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// The .env file never overrides variables already set in the process
// environment.
//
// # Configuration Files
//
//	# .linemark/config.toml
//	[merge]
//	window = "5m"
//
//	[persist]
//	flushDelay = "300ms"
//
//	[store]
//	backend = "sqlite"
//	dbURL = "sqlite:///home/me/.linemark/state.db"
//
//	[log]
//	level = "DEBUG"
//	format = "json"
//
// # Error Handling
//
//   - ErrFileNotFound: an explicitly named config file doesn't exist
//   - ErrValidationFailed: wraps one *ValidationError per bad setting
//   - *loader.ParseError: the config file could not be parsed
package config
