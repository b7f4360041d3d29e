// Package config loads the harness configuration file
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-tnvme/internal/constants"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config is the on-disk harness configuration. Zero fields in a file keep
// their defaults.
type Config struct {
	Device      string   `yaml:"device"`
	LockFile    string   `yaml:"lock_file"`
	Log         Log      `yaml:"log"`
	Timeouts    Timeouts `yaml:"timeouts"`
	Metadata    Metadata `yaml:"metadata"`
	MetricsFile string   `yaml:"metrics_file"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Timeouts accept Go duration strings ("2s", "500us")
type Timeouts struct {
	Reap         time.Duration `yaml:"reap"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Metadata struct {
	BufferSize uint32 `yaml:"buffer_size"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Device:   constants.DefaultDevice,
		LockFile: constants.DefaultLockFile,
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Timeouts: Timeouts{
			Reap:         constants.DefaultReapTimeout,
			PollInterval: constants.DefaultPollInterval,
		},
		Metadata: Metadata{
			BufferSize: constants.DefaultMetaBufferSize,
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field that has a constrained range
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("%w: device is empty", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q, want text or json", ErrInvalidConfig, c.Log.Format)
	}
	if c.Timeouts.Reap <= 0 {
		return fmt.Errorf("%w: timeouts.reap must be positive", ErrInvalidConfig)
	}
	if c.Timeouts.PollInterval <= 0 || c.Timeouts.PollInterval > c.Timeouts.Reap {
		return fmt.Errorf("%w: timeouts.poll_interval must be positive and below timeouts.reap", ErrInvalidConfig)
	}
	if c.Metadata.BufferSize == 0 || c.Metadata.BufferSize%4 != 0 {
		return fmt.Errorf("%w: metadata.buffer_size %d is not a positive multiple of 4", ErrInvalidConfig, c.Metadata.BufferSize)
	}
	return nil
}

// Logging converts the log section into a logger configuration
func (c *Config) Logging() *logging.Config {
	lc := logging.DefaultConfig()
	// Validate already rejected unknown levels
	lc.Level, _ = logging.ParseLevel(c.Log.Level)
	lc.Format = strings.ToLower(c.Log.Format)
	return lc
}
