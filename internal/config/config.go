// Package config handles configuration parsing for fakessh.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/acolita/fake-ssh/internal/command"
	"github.com/acolita/fake-ssh/internal/vfs"
)

// DefaultListenAddr is where the server listens when nothing else is set.
const DefaultListenAddr = "127.0.0.1:5050"

// Config represents the top-level configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Commands   CommandsConfig   `yaml:"commands"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig defines the SSH listener.
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	HostKeyPath string `yaml:"host_key_path"` // empty: generate a key at startup
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Format   string `yaml:"format"`   // "json" or "text"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// FilesystemConfig defines the initial content of the virtual filesystem.
// A null value marks a directory.
type FilesystemConfig struct {
	Seed vfs.Seed `yaml:"seed"`
}

// CommandsConfig defines how exec requests are answered.
type CommandsConfig struct {
	Default string       `yaml:"default"` // "echo" or "fail"
	Rules   []RuleConfig `yaml:"rules"`
}

// RuleConfig is one canned answer, selected by a glob on the command line.
type RuleConfig struct {
	Pattern  string `yaml:"pattern"`
	Stdout   string `yaml:"stdout"`
	Stderr   string `yaml:"stderr"`
	ExitCode int    `yaml:"exit_code"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty: no metrics endpoint
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: DefaultListenAddr,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sanitize: true,
		},
		Filesystem: FilesystemConfig{
			Seed: vfs.DefaultSeed(),
		},
		Commands: CommandsConfig{
			Default: "echo",
		},
	}
}

// Load loads configuration from a YAML file. An empty path yields the
// defaults. A seed in the file replaces the default seed as a whole.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	defaultSeed := cfg.Filesystem.Seed
	cfg.Filesystem.Seed = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Filesystem.Seed == nil {
		cfg.Filesystem.Seed = defaultSeed
	}

	return cfg, nil
}

// Validate validates the configuration and fills in empty fields.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	if _, err := command.ByName(c.Commands.Default); err != nil {
		errs = append(errs, fmt.Errorf("commands.default: %w", err))
	}
	for i, r := range c.Commands.Rules {
		if r.Pattern == "" {
			errs = append(errs, fmt.Errorf("commands.rules[%d]: empty pattern", i))
		} else if !doublestar.ValidatePattern(r.Pattern) {
			errs = append(errs, fmt.Errorf("commands.rules[%d]: bad pattern %q", i, r.Pattern))
		}
		if r.ExitCode < 0 || r.ExitCode > 255 {
			errs = append(errs, fmt.Errorf("commands.rules[%d]: exit_code %d out of range", i, r.ExitCode))
		}
	}

	for p := range c.Filesystem.Seed {
		if p == "" {
			errs = append(errs, errors.New("filesystem.seed: empty path"))
		}
	}

	return errors.Join(errs...)
}

// CommandRules converts the configured rules for command.Canned.
func (c *Config) CommandRules() []command.Rule {
	rules := make([]command.Rule, 0, len(c.Commands.Rules))
	for _, r := range c.Commands.Rules {
		rules = append(rules, command.Rule{
			Pattern: r.Pattern,
			Result: command.Result{
				Stdout:   r.Stdout,
				Stderr:   r.Stderr,
				ExitCode: r.ExitCode,
			},
		})
	}
	return rules
}

// CommandHandler builds the command handler described by the config.
func (c *Config) CommandHandler() (*command.Canned, error) {
	fallback, err := command.ByName(c.Commands.Default)
	if err != nil {
		return nil, err
	}
	return command.NewCanned(c.CommandRules(), fallback)
}
