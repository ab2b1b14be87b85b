package lanebus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// DefaultLaneCount is the number of worker lanes used when no configuration
// is supplied.
const DefaultLaneCount = 4

// Config defines the configuration for a pool dispatcher.
type Config struct {
	// Lanes is the number of worker lanes. Fixed for the lifetime of the
	// dispatcher; lane indices passed to Add and Subscribe must be below it.
	Lanes int `json:"lanes" yaml:"lanes" toml:"lanes" env:"LANES"`

	// QueueCapacity bounds the number of pending tasks per lane. When a lane
	// exceeds the capacity the oldest pending task is dropped and counted.
	// Zero means unbounded.
	QueueCapacity int `json:"queueCapacity" yaml:"queueCapacity" toml:"queueCapacity" env:"QUEUE_CAPACITY"`

	// ShutdownTimeout is how long Dispose waits for lane workers to exit
	// before giving up. Zero waits indefinitely.
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout" toml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a config with the standard lane count and a bounded
// per-lane queue.
func DefaultConfig() *Config {
	return &Config{
		Lanes:           DefaultLaneCount,
		QueueCapacity:   1024,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Lanes < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidLaneCount, c.Lanes)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQueueCapacity, c.QueueCapacity)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}
	return nil
}

// LoadConfig reads a config file, selecting the decoder by extension
// (.yaml/.yml, .toml, .json). Values not present in the file keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing toml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing json config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigFile, filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config fields from environment variables. Each field's
// env tag is upper-cased and joined to the prefix with an underscore, e.g.
// prefix "LANEBUS" reads LANEBUS_LANES for the Lanes field.
func (c *Config) ApplyEnv(prefix string) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" {
			continue
		}
		name := strings.ToUpper(tag)
		if prefix != "" {
			name = prefix + "_" + name
		}
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		field := v.Field(i)
		converted, err := cast.FromType(raw, field.Type())
		if err != nil {
			return fmt.Errorf("cannot convert %s value %q to %v: %w", name, raw, field.Type(), err)
		}
		field.Set(reflect.ValueOf(converted))
	}
	return c.Validate()
}
