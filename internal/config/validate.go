package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks configuration values for internal consistency. It does not
// touch the filesystem; directory creation happens in EnsureDirectories.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return fmt.Errorf("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return fmt.Errorf("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return fmt.Errorf("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		return fmt.Errorf("paths.socket_path must be set")
	}

	if c.Backend.BaseURL != "" {
		parsed, err := url.Parse(c.Backend.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("backend.base_url %q is not a valid URL", c.Backend.BaseURL)
		}
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (console, json)", c.Logging.Format)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported (debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
