package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Backend contains connection settings for the remote dispatch API.
type Backend struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	HealthPath     string `toml:"health_path"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Sync contains queue and drain timing configuration.
type Sync struct {
	MaxRetries          int `toml:"max_retries"`
	DrainInterval       int `toml:"drain_interval"`
	ConnectivityPoll    int `toml:"connectivity_poll"`
	ProbeTimeout        int `toml:"probe_timeout"`
	EvidenceMaxAgeHours int `toml:"evidence_max_age_hours"`
}

// Upload contains the evidence upload retry policy.
type Upload struct {
	Attempts       int `toml:"attempts"`
	BackoffSeconds int `toml:"backoff_seconds"`
	MaxBackoff     int `toml:"max_backoff_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Exhausted      bool   `toml:"exhausted"`
	Drain          bool   `toml:"drain"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for fieldsync.
//
// Configuration sections by subsystem:
//   - Paths: queue database, evidence staging, logs, and IPC socket
//   - Backend: remote dispatch API connection
//   - Sync: retry budget and drain/connectivity intervals
//   - Upload: evidence upload attempt budget and backoff
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Sync          Sync          `toml:"sync"`
	Upload        Upload        `toml:"upload"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fieldsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The boolean reports whether a
// config file was found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fieldsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories required for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDatabasePath returns the location of the queue database file.
func (c *Config) QueueDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// HealthURL joins the backend base URL with the configured health path.
func (c *Config) HealthURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if base == "" {
		return ""
	}
	path := strings.TrimSpace(c.Backend.HealthPath)
	if path == "" {
		path = "/healthz"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
