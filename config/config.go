// Package config loads the bridge configuration from an optional TOML file
// layered over struct-tag defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/nfc"
)

// FileName is the config file looked up in the user config directory.
const FileName = "config.toml"

// Config holds application configuration
type Config struct {
	Port   int    `toml:"port" default:"18080"`
	Device string `toml:"device"`
	// Radio is libnfc, phone or none.
	Radio          string        `toml:"radio" default:"libnfc"`
	CommandTimeout time.Duration `toml:"command_timeout" default:"20s"`
	// EventPolicy is unbounded, drop-oldest or drop-newest; the bounded
	// policies keep EventBuffer events per caller.
	EventPolicy string `toml:"event_policy" default:"drop-oldest"`
	EventBuffer int    `toml:"event_buffer" default:"256"`
	MDNS        bool   `toml:"mdns" default:"true"`
	APISecret   string `toml:"api_secret"`
	// LogLevel is a logrus level name. Empty means debug for dev builds
	// and info otherwise.
	LogLevel string `toml:"log_level"`
	Systray  bool   `toml:"systray"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns the config file location in the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, buildinfo.DirName, FileName), nil
}

// Load decodes path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config load failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads the file at DefaultPath, falling back to the defaults
// when it does not exist.
func LoadDefault() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Radio {
	case nfc.RadioKindLibnfc, nfc.RadioKindPhone, nfc.RadioKindNone:
	default:
		return fmt.Errorf("unknown radio %q (want %s, %s or %s)", c.Radio, nfc.RadioKindLibnfc, nfc.RadioKindPhone, nfc.RadioKindNone)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %s", c.CommandTimeout)
	}
	if _, err := nfc.ParsePolicy(c.EventPolicy, c.EventBuffer); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Policy returns the event backpressure policy for caller subscriptions.
// An invalid policy falls back to unbounded; Validate reports it.
func (c *Config) Policy() nfc.Policy {
	p, err := nfc.ParsePolicy(c.EventPolicy, c.EventBuffer)
	if err != nil {
		return nfc.Unbounded()
	}
	return p
}

func (c *Config) Level() logrus.Level {
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil && c.LogLevel != "" {
		return lvl
	}
	if buildinfo.IsDev() {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
