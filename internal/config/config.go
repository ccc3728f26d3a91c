package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// UserToken is substituted with the user identifier in every path field.
const UserToken = "{USER}"

// Mapping binds a target application to its worker executable and output
// directory template.
type Mapping struct {
	ExecutablePath  string `toml:"ExecutablePath" json:"ExecutablePath"`
	OutputDirectory string `toml:"OutputDirectory" json:"OutputDirectory"`
}

// Engine contains scheduler, sweeper, and state settings.
type Engine struct {
	PollIntervalMillis   int    `toml:"PollIntervalMillis" json:"PollIntervalMillis"`
	MaxConcurrentJobs    int    `toml:"MaxConcurrentJobs" json:"MaxConcurrentJobs"`
	PacingDelayMillis    int    `toml:"PacingDelayMillis" json:"PacingDelayMillis"`
	SweepIntervalMinutes int    `toml:"SweepIntervalMinutes" json:"SweepIntervalMinutes"`
	RecoverStaleOnStart  bool   `toml:"RecoverStaleOnStart" json:"RecoverStaleOnStart"`
	ReloadDebounceMillis int    `toml:"ReloadDebounceMillis" json:"ReloadDebounceMillis"`
	StateDirectory       string `toml:"StateDirectory" json:"StateDirectory"`
}

// Logging contains configuration for daemon log output.
type Logging struct {
	Level         string `toml:"Level" json:"Level"`
	Format        string `toml:"Format" json:"Format"`
	Directory     string `toml:"Directory" json:"Directory"`
	RetentionDays int    `toml:"RetentionDays" json:"RetentionDays"`
}

// API contains the control API listener settings. An empty Bind disables it.
type API struct {
	Bind  string `toml:"Bind" json:"Bind"`
	Token string `toml:"Token" json:"Token"`
}

// Notifications contains the job status webhook settings.
type Notifications struct {
	WebhookURL            string `toml:"WebhookURL" json:"WebhookURL"`
	RequestTimeoutSeconds int    `toml:"RequestTimeoutSeconds" json:"RequestTimeoutSeconds"`
	QueueSize             int    `toml:"QueueSize" json:"QueueSize"`
}

// Config is the template configuration. Values handed out by a Cell are
// shared snapshots and must be treated as read-only; use Clone or ForUser to
// obtain a private copy.
type Config struct {
	WatchDirectory     string             `toml:"WatchDirectory" json:"WatchDirectory"`
	QueueDirectory     string             `toml:"QueueDirectory" json:"QueueDirectory"`
	TimeoutSeconds     int                `toml:"TimeoutSeconds" json:"TimeoutSeconds"`
	DefaultRetryCount  int                `toml:"DefaultRetryCount" json:"DefaultRetryCount"`
	FileRetentionHours int                `toml:"FileRetentionHours" json:"FileRetentionHours"`
	Mapping            map[string]Mapping `toml:"Mapping" json:"Mapping"`

	Engine        Engine        `toml:"Engine" json:"Engine"`
	Logging       Logging       `toml:"Logging" json:"Logging"`
	API           API           `toml:"API" json:"API"`
	Notifications Notifications `toml:"Notifications" json:"Notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sequentier/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A missing file yields
// the defaults.
func Load(path string) (*Config, string, bool, error) {
	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		if err := decode(resolvedPath, data, &cfg); err != nil {
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

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		decoder := json.NewDecoder(bytes.NewReader(data))
		return decoder.Decode(cfg)
	}
	return toml.Unmarshal(data, cfg)
}

// Encode renders the configuration in the format implied by path's extension.
func Encode(path string, cfg *Config) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return toml.Marshal(cfg)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
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
	projectPath, err := filepath.Abs("sequentier.toml")
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

// Clone returns a deep copy that shares no mutable state with c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Mapping = maps.Clone(c.Mapping)
	if clone.Mapping == nil {
		clone.Mapping = map[string]Mapping{}
	}
	return &clone
}

// EnsureDirectories creates the process-wide directories for daemon operation.
// Per-user directories are created lazily by their owners.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Engine.StateDirectory, c.Logging.Directory} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Engine.StateDirectory, "sequentier.lock")
}

// HistoryPath is the SQLite archive of finished jobs.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Engine.StateDirectory, "history.db")
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
