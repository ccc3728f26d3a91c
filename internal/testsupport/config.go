package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sequentier/internal/config"
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
	cfgVal.WatchDirectory = filepath.Join(base, "watch", config.UserToken)
	cfgVal.QueueDirectory = filepath.Join(base, "queues", config.UserToken)
	cfgVal.TimeoutSeconds = 5
	cfgVal.Engine.StateDirectory = filepath.Join(base, "state")
	cfgVal.Engine.PollIntervalMillis = 20
	cfgVal.Logging.Directory = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"

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

// WithMapping binds app to executable with an output directory under the
// test's temp tree.
func WithMapping(app, executable string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Mapping[app] = config.Mapping{
			ExecutablePath:  executable,
			OutputDirectory: filepath.Join(b.baseDir, "out", config.UserToken),
		}
	}
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.TimeoutSeconds = seconds
	}
}

// WithRetries sets DefaultRetryCount.
func WithRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.DefaultRetryCount = n
	}
}

// WithRetention sets FileRetentionHours.
func WithRetention(hours int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.FileRetentionHours = hours
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Engine.StateDirectory)
}

// WriteConfig encodes cfg to path in the format implied by its extension.
func WriteConfig(t testing.TB, path string, cfg *config.Config) {
	t.Helper()
	data, err := config.Encode(path, cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("replace config: %v", err)
	}
}
