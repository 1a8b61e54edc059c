package keymesh

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c360/keymesh/errors"
)

// Duration wraps time.Duration with JSON encoding as a Go duration string
// ("5s", "150ms").
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// LinkConfig configures the optional NATS mesh link that connects this
// process's engine to remote peers.
type LinkConfig struct {
	// Enabled turns the link on. URL is required when set.
	Enabled bool `json:"enabled,omitempty"`

	// URL is the NATS server to dial, e.g. "nats://localhost:4222".
	URL string `json:"url,omitempty"`

	// Namespace prefixes every subject the link uses, isolating meshes
	// sharing one NATS deployment. Defaults to "keymesh".
	Namespace string `json:"namespace,omitempty"`

	// AllowKeys restricts which locally published keys are mirrored to
	// the mesh. Glob patterns with '/' separators; '**' crosses chunks.
	// Empty means mirror everything.
	AllowKeys []string `json:"allow_keys,omitempty"`

	// ConnectTimeout bounds the initial dial. Defaults to 5s.
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`
}

// Config holds everything a session consumes at open time. The value is
// read once by Open and never mutated afterwards.
type Config struct {
	// Name identifies the session in logs. Autogenerated when empty.
	Name string `json:"name,omitempty"`

	// ChannelCapacity is the default buffer size for channel receivers
	// and subscriber queues declared without an explicit capacity.
	ChannelCapacity int `json:"channel_capacity,omitempty"`

	// QueryTimeout is the default Get timeout. Defaults to 10s.
	QueryTimeout Duration `json:"query_timeout,omitempty"`

	// Link configures the optional NATS mesh link.
	Link LinkConfig `json:"link,omitempty"`
}

// DefaultConfig returns the configuration used when Open receives nil.
func DefaultConfig() *Config {
	return &Config{
		ChannelCapacity: DefaultChannelCapacity,
		QueryTimeout:    Duration(10 * time.Second),
	}
}

// LoadConfig reads and validates a JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "LoadConfig", "read file")
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "LoadConfig", "parse JSON")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ChannelCapacity < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("channel_capacity must not be negative: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "check channel capacity")
	}
	if c.QueryTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("query_timeout must not be negative: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "check query timeout")
	}
	if c.Link.Enabled && c.Link.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("link.url is required when the link is enabled: %w", errors.ErrMissingConfig),
			"Config", "Validate", "check link URL")
	}
	return nil
}

func (c *Config) channelCapacity() int {
	if c.ChannelCapacity > 0 {
		return c.ChannelCapacity
	}
	return DefaultChannelCapacity
}

func (c *Config) queryTimeout() time.Duration {
	if c.QueryTimeout > 0 {
		return time.Duration(c.QueryTimeout)
	}
	return 10 * time.Second
}

func (l *LinkConfig) connectTimeout() time.Duration {
	if l.ConnectTimeout > 0 {
		return time.Duration(l.ConnectTimeout)
	}
	return 5 * time.Second
}
