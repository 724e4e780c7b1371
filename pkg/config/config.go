package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blelink/internal/devicefactory"
	"github.com/srg/blelink/internal/session"
)

// Config holds application configuration. Zero values are replaced by the
// defaults in the struct tags.
type Config struct {
	LogLevel             string        `yaml:"log_level" default:"info"`
	NamePrefix           string        `yaml:"name_prefix" default:"Qualia"`
	IgnoreCase           bool          `yaml:"ignore_case"`
	Backend              string        `yaml:"backend" default:"auto"`
	Adapter              string        `yaml:"adapter" default:"hci0"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout" default:"30s"`
	ConnectPolicy        string        `yaml:"connect_policy" default:"replace"`
	EventBuffer          int           `yaml:"event_buffer" default:"64"`
	PendingNotifications int           `yaml:"pending_notifications" default:"64"`
	JournalSize          uint32        `yaml:"journal_size" default:"256"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns $XDG_CONFIG_HOME/blelink/config.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "blelink", "config.yaml")
}

// Load reads a YAML config file. An empty path means DefaultPath, and a
// missing default file yields the defaults; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := devicefactory.ParseBackend(c.Backend); err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	switch session.ConnectPolicy(c.ConnectPolicy) {
	case session.PolicyReplace, session.PolicyReject:
	default:
		return fmt.Errorf("connect_policy must be %q or %q, got %q", session.PolicyReplace, session.PolicyReject, c.ConnectPolicy)
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative, got %s", c.ConnectTimeout)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative, got %d", c.EventBuffer)
	}
	if c.PendingNotifications < 0 {
		return fmt.Errorf("pending_notifications must not be negative, got %d", c.PendingNotifications)
	}
	return nil
}

// Level returns the parsed log level, InfoLevel when unparsable.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// SessionOptions maps the config onto the session controller options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		NamePrefix:           c.NamePrefix,
		IgnoreCase:           c.IgnoreCase,
		ConnectTimeout:       c.ConnectTimeout,
		ConnectPolicy:        session.ConnectPolicy(c.ConnectPolicy),
		EventBuffer:          c.EventBuffer,
		PendingNotifications: c.PendingNotifications,
		JournalSize:          c.JournalSize,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())
	logger.SetOutput(os.Stderr)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
