package testsupport

import (
	"path/filepath"
	"testing"

	"fieldsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "fieldsyncd.sock")
	cfgVal.Backend.BaseURL = "http://backend.invalid"
	cfgVal.Backend.APIToken = "test-token"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackendURL points the test config at the given backend base URL,
// typically an httptest server.
func WithBackendURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.BaseURL = url
	}
}

// WithMaxRetries overrides the per-mutation retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.MaxRetries = n
	}
}

// WithUploadAttempts overrides the evidence upload attempt budget.
func WithUploadAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Attempts = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
