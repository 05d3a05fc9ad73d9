// Package config loads the engine configuration from a YAML file.
// Every field has a working default so a bare `cascade serve` runs
// against a local database with no config file at all.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cascade/internal/persist"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full engine configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// ListenAddr is the HTTP listen address for `cascade serve`.
	ListenAddr string `yaml:"listen_addr"`

	// BackupDir holds client-side pending-save backups.
	BackupDir string `yaml:"backup_dir"`

	// NodeTimeout bounds each executor call. Zero disables the bound.
	NodeTimeout Duration `yaml:"node_timeout"`

	// Policy tunes the suspicious-overwrite heuristics. The defaults
	// are starting points, not derived constants; adjust per workload.
	Policy persist.Policy `yaml:"policy"`

	// OpenAI configures the agent executor.
	OpenAI OpenAIConfig `yaml:"openai"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// OpenAIConfig configures the LLM client for agent nodes.
type OpenAIConfig struct {
	// Model is the default model for agent nodes that don't name one.
	Model string `yaml:"model"`
	// Enabled gates agent execution entirely; with it off, agent
	// nodes fail locally instead of reaching for an API key.
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath:      "cascade.db",
		ListenAddr:  ":8080",
		BackupDir:   ".cascade/backups",
		NodeTimeout: Duration(2 * time.Minute),
		Policy:      persist.DefaultPolicy(),
		OpenAI:      OpenAIConfig{Model: "gpt-4o-mini"},
		LogLevel:    "info",
	}
}

// Load reads the file at path over the defaults. A missing file is
// not an error when path is empty; a named-but-absent file is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Policy.LowOverlap < 0 || c.Policy.LowOverlap > 1 {
		return fmt.Errorf("policy.low_overlap %v outside [0,1]", c.Policy.LowOverlap)
	}
	if c.Policy.RenameOverlap < 0 || c.Policy.RenameOverlap > 1 {
		return fmt.Errorf("policy.rename_overlap %v outside [0,1]", c.Policy.RenameOverlap)
	}
	return nil
}
