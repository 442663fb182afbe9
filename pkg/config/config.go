// Package config loads the server-side configuration. Tenant credentials
// never appear here; those arrive per-session via uploaded bundles. This
// file covers only process-level settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListen        = ":8080"
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSweepInterval = 60 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultDialTimeout   = 10 * time.Second
	DefaultDeployDelay   = 30 * time.Second
)

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("invalid duration value")
		}
		*d = Duration(n)
		return nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the complete server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// CookieSecret signs session cookies. Required.
	CookieSecret string `yaml:"cookie_secret"`

	// AdminKeyHash is the bcrypt hash gating operator endpoints.
	// Empty disables them.
	AdminKeyHash string `yaml:"admin_key_hash"`

	// SessionTTL is the session inactivity window.
	SessionTTL Duration `yaml:"session_ttl"`

	// SweepInterval is how often the registry sweep and session cleanup run.
	SweepInterval Duration `yaml:"sweep_interval"`

	// ProbeTimeout bounds each health check probe.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// DialTimeout bounds backing-store connection establishment.
	DialTimeout Duration `yaml:"dial_timeout"`

	// DeployDelay is how long a triggered deployment stays in_progress
	// before the timer writes its terminal state.
	DeployDelay Duration `yaml:"deploy_delay"`
}

// Load reads the configuration from path. An empty path yields the
// defaults (the cookie secret must then come from OPSBOARD_COOKIE_SECRET).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(cfg)

	if cfg.CookieSecret == "" {
		cfg.CookieSecret = os.Getenv("OPSBOARD_COOKIE_SECRET")
	}
	if cfg.CookieSecret == "" {
		return nil, fmt.Errorf("cookie secret is required (config cookie_secret or OPSBOARD_COOKIE_SECRET)")
	}

	return cfg, nil
}

// applyDefaults fills unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = Duration(DefaultSessionTTL)
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = Duration(DefaultProbeTimeout)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = Duration(DefaultDialTimeout)
	}
	if cfg.DeployDelay == 0 {
		cfg.DeployDelay = Duration(DefaultDeployDelay)
	}
}
