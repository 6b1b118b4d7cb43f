// Package config wraps viper behind nil-safe accessors and carries the
// daemon's defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is a nil-safe view over a viper instance. All getters return zero
// values when the underlying viper is absent, so callers can chain Sub()
// without checking.
type Config struct {
	v *viper.Viper
}

// New wraps a viper instance. A nil viper yields a Config whose getters all
// return zero values.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// Load reads the daemon config file (optional) and applies defaults and the
// WGFLEET_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db.path", "wgfleet.db")
	v.SetDefault("wireguard.config_dir", "/etc/wireguard")
	v.SetDefault("snapshot.dir", "/var/lib/wgfleet/snapshots")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("probe.timeout", "2s")
	v.SetDefault("probe.count", 3)
	v.SetDefault("probe.settle_delay", "300ms")
	v.SetDefault("probe.candidate_delay", "300ms")
	v.SetDefault("sync.interval", "1m")

	v.SetEnvPrefix("WGFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return New(v), nil
}

// GetString returns the string value for key.
func (c *Config) GetString(key string) string {
	if c == nil || c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// GetInt returns the int value for key.
func (c *Config) GetInt(key string) int {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

// GetBool returns the bool value for key.
func (c *Config) GetBool(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

// GetDuration returns the duration value for key.
func (c *Config) GetDuration(key string) time.Duration {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

// GetStringSlice returns the string slice value for key.
func (c *Config) GetStringSlice(key string) []string {
	if c == nil || c.v == nil {
		return nil
	}
	return c.v.GetStringSlice(key)
}

// IsSet reports whether key has a value.
func (c *Config) IsSet(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the subtree rooted at key. Missing subtrees yield an empty
// Config, never nil.
func (c *Config) Sub(key string) *Config {
	if c == nil || c.v == nil {
		return New(nil)
	}
	return New(c.v.Sub(key))
}

// Unmarshal decodes the config into target via mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	if c == nil || c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}
