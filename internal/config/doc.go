// Package config loads, defaults, and validates fieldsync configuration
// from TOML. All other packages receive a *Config and never read the
// environment or config files directly.
package config
