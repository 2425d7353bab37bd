// Package config provides configuration management for killable-sudo.
// It uses koanf v2 to load configuration from a YAML file. Every key is
// optional: a missing file yields the built-in defaults.
//
// Configuration is loaded from /etc/killable-sudo/config.yaml by default.
// The privileged role always reads this path and never one supplied on its
// command line, since those arguments come from the unprivileged caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default location for the configuration file.
const DefaultConfigPath = "/etc/killable-sudo/config.yaml"

// Defaults for optional configuration fields.
const (
	DefaultRunDir            = "/var/run/killable-sudo"
	DefaultHelperPath        = "/opt/killable-sudo/killable-sudo"
	DefaultEscalationCommand = "sudo"
	DefaultLogLevel          = "warn"
	DefaultLogFormat         = "text"
)

// Config holds the settings shared by both roles.
// Fields are tagged for both koanf (loading) and yaml (printing).
type Config struct {
	// RunDir is the root under which per-user channel directories live.
	RunDir string `koanf:"run_dir" yaml:"run_dir"`

	// HelperPath is the root-owned copy of this binary that the escalation
	// command is allowed to run without a password.
	HelperPath string `koanf:"helper_path" yaml:"helper_path"`

	// EscalationCommand runs a program as another user (normally sudo).
	EscalationCommand string `koanf:"escalation_command" yaml:"escalation_command"`

	// LogLevel controls verbosity: "debug", "info", "warn", "error".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// LogFormat is "text" or "json". Logs always go to stderr.
	LogFormat string `koanf:"log_format" yaml:"log_format"`

	// JournalDisabled stops the privileged role from mirroring its log
	// records to the systemd journal.
	JournalDisabled bool `koanf:"journal_disabled" yaml:"journal_disabled"`
}

// Validation errors returned by Load.
var (
	ErrRunDirNotAbsolute     = errors.New("run_dir must be an absolute path")
	ErrHelperPathNotAbsolute = errors.New("helper_path must be an absolute path")
	ErrInvalidLogFormat      = errors.New("log_format must be text or json")
)

// Default returns a Config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified YAML file path.
// A file that does not exist is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	} else {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
func (c *Config) applyDefaults() {
	if c.RunDir == "" {
		c.RunDir = DefaultRunDir
	}
	if c.HelperPath == "" {
		c.HelperPath = DefaultHelperPath
	}
	if c.EscalationCommand == "" {
		c.EscalationCommand = DefaultEscalationCommand
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	c.RunDir = filepath.Clean(c.RunDir)
}

// validate checks that configuration fields are usable.
func (c *Config) validate() error {
	if !filepath.IsAbs(c.RunDir) {
		return ErrRunDirNotAbsolute
	}
	if !filepath.IsAbs(c.HelperPath) {
		return ErrHelperPathNotAbsolute
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

// Marshal renders the configuration as YAML, in the same shape Load reads.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
