// Package config loads, normalizes, and validates the TOML configuration
// shared by the daemon and CLI. Defaults are always usable without a config
// file; a missing file is not an error.
package config
