// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file when --config is
// not given.
const EnvironmentVariable = "TUNNELWARDEN_CONFIG"

// Log output formats.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the complete tunnelwarden configuration.
type Config struct {
	Log LogConfig `yaml:"log"`

	OTP OTPConfig `yaml:"otp"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// ShutdownTimeout bounds the final disconnect on exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Bitwarden BitwardenConfig `yaml:"bitwarden"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text, or json.
	Format string `yaml:"format"`
}

// OTPConfig configures the one-time-code helper.
type OTPConfig struct {
	Command string        `yaml:"command"`
	Digits  int           `yaml:"digits"`
	Timeout time.Duration `yaml:"timeout"`
}

// ReconnectConfig bounds automatic reconnection.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`

	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64 `yaml:"jitter"`

	// MaxAttempts is the number of consecutive reconnects without
	// reaching "Connected" before giving up. Zero means never give up.
	MaxAttempts int `yaml:"max_attempts"`
}

// BitwardenConfig names the items that fill a new vault. Leaving both
// items empty disables the lookup.
type BitwardenConfig struct {
	URL          string `yaml:"url"`
	UsernameItem string `yaml:"username_item"`
	SecretItem   string `yaml:"secret_item"`
}

// Enabled reports whether any Bitwarden item is configured.
func (b BitwardenConfig) Enabled() bool {
	return b.UsernameItem != "" || b.SecretItem != ""
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: FormatAuto,
		},
		OTP: OTPConfig{
			Command: "oathtool",
			Digits:  6,
			Timeout: 10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			InitialInterval: time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2,
			Jitter:          0.5,
			MaxAttempts:     10,
		},
		ShutdownTimeout: 10 * time.Second,
		Bitwarden: BitwardenConfig{
			URL: "http://localhost:8087",
		},
	}
}

// Load resolves the configuration: the file at flagPath if non-empty,
// else the file named by TUNNELWARDEN_CONFIG, else Default.
func Load(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, expands variables, and
// validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, expands variables, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	cfg.expandVariables(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandVariables(lookup func(string) (string, bool)) {
	c.OTP.Command = expandVars(c.OTP.Command, lookup)
	c.Bitwarden.URL = expandVars(c.Bitwarden.URL, lookup)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, lookup func(string) (string, bool)) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value, ok := lookup(parts[1]); ok && value != "" {
			return value
		}
		return parts[2]
	})
}

// SlogLevel returns the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	formats := []string{FormatAuto, FormatText, FormatJSON}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if c.OTP.Command == "" {
		errs = append(errs, fmt.Errorf("otp.command is required"))
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 8 {
		errs = append(errs, fmt.Errorf("otp.digits must be between 6 and 8, got %d", c.OTP.Digits))
	}
	if c.OTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("otp.timeout must be positive"))
	}

	if c.Reconnect.InitialInterval < 0 {
		errs = append(errs, fmt.Errorf("reconnect.initial_interval must not be negative"))
	}
	if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		errs = append(errs, fmt.Errorf("reconnect.max_interval must be at least reconnect.initial_interval"))
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect.multiplier must be at least 1, got %g", c.Reconnect.Multiplier))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("reconnect.jitter must be in [0, 1), got %g", c.Reconnect.Jitter))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts must not be negative"))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive"))
	}

	if c.Bitwarden.Enabled() && c.Bitwarden.URL == "" {
		errs = append(errs, fmt.Errorf("bitwarden.url is required when bitwarden items are set"))
	}

	return errors.Join(errs...)
}
