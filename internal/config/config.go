// Package config loads and validates keepalive service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Visit     VisitConfig     `mapstructure:"visit"`
	KeepAlive KeepAliveConfig `mapstructure:"keepalive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig holds the shared trigger secret. An empty token rejects every
// trigger: the service fails closed rather than running unauthenticated.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// VisitConfig governs the browser visit lifecycle.
type VisitConfig struct {
	DefaultURL           string `mapstructure:"default_url"`
	StayMinutes          int    `mapstructure:"stay_minutes"`
	NavTimeoutSeconds    int    `mapstructure:"nav_timeout_seconds"`
	LaunchTimeoutSeconds int    `mapstructure:"launch_timeout_seconds"`
	UserAgent            string `mapstructure:"user_agent"`
}

// KeepAliveConfig controls the secondary ping loop that runs during a visit.
// An empty URL means "ping my own /healthz".
type KeepAliveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEEPALIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("visit.stay_minutes", 14)
	v.SetDefault("visit.nav_timeout_seconds", 120)
	v.SetDefault("visit.launch_timeout_seconds", 0)
	v.SetDefault("keepalive.enabled", true)
	v.SetDefault("keepalive.interval_seconds", 45)
	v.SetDefault("keepalive.timeout_seconds", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Visit.StayMinutes < 0 {
		return fmt.Errorf("visit.stay_minutes must be >= 0")
	}
	if c.Visit.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("visit.nav_timeout_seconds must be > 0")
	}
	if c.Visit.LaunchTimeoutSeconds < 0 {
		return fmt.Errorf("visit.launch_timeout_seconds must be >= 0")
	}
	if c.KeepAlive.Enabled {
		if c.KeepAlive.IntervalSeconds <= 0 {
			return fmt.Errorf("keepalive.interval_seconds must be > 0 when keepalive is enabled")
		}
		if c.KeepAlive.TimeoutSeconds <= 0 {
			return fmt.Errorf("keepalive.timeout_seconds must be > 0 when keepalive is enabled")
		}
	}
	return nil
}

// StayDuration returns the configured stay as a duration.
func (c Config) StayDuration() time.Duration {
	return time.Duration(c.Visit.StayMinutes) * time.Minute
}

// NavTimeout returns the navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Visit.NavTimeoutSeconds) * time.Second
}

// LaunchTimeout returns the browser launch timeout; zero means unbounded.
func (c Config) LaunchTimeout() time.Duration {
	return time.Duration(c.Visit.LaunchTimeoutSeconds) * time.Second
}

// PingInterval returns the keep-alive ping cadence.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.KeepAlive.IntervalSeconds) * time.Second
}

// PingTimeout returns the per-attempt keep-alive ping timeout.
func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.KeepAlive.TimeoutSeconds) * time.Second
}
