// Package config loads shakesync configuration from TOML with environment
// overrides for deployment-sensitive values.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/songshake/shakesync/errors"
)

// Duration wraps time.Duration so TOML values can be written as "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	d.Duration = parsed
	return nil
}

// Config holds all tunables of the sync engine.
type Config struct {
	// BaseURL is the http(s) root of the backend job API.
	BaseURL string `toml:"base_url"`
	// Token is the bearer token identifying the current user. Usually
	// supplied via SHAKESYNC_TOKEN rather than the config file.
	Token string `toml:"token"`

	HTTPTimeout Duration `toml:"http_timeout"`

	// PollInterval is the reconciliation poll period.
	PollInterval Duration `toml:"poll_interval"`
	// ReconcileDelay is the lag between a terminal push event (or cancel
	// acknowledgement) and the confirming reconciliation fetch.
	ReconcileDelay Duration `toml:"reconcile_delay"`

	// UsageInterval is the usage metric fetch period while polling.
	UsageInterval Duration `toml:"usage_interval"`
	// GlowWindow is how long the usage "changed" signal stays up.
	GlowWindow Duration `toml:"glow_window"`

	// DashboardFast/DashboardSlow are the adaptive playlist refresh
	// intervals while processing / idle.
	DashboardFast Duration `toml:"dashboard_fast_interval"`
	DashboardSlow Duration `toml:"dashboard_slow_interval"`
}

// Default returns the intervals used by the UI-facing deployment.
func Default() Config {
	return Config{
		BaseURL:        "http://localhost:8000",
		HTTPTimeout:    Duration{30 * time.Second},
		PollInterval:   Duration{10 * time.Second},
		ReconcileDelay: Duration{1500 * time.Millisecond},
		UsageInterval:  Duration{2 * time.Second},
		GlowWindow:     Duration{600 * time.Millisecond},
		DashboardFast:  Duration{10 * time.Second},
		DashboardSlow:  Duration{30 * time.Second},
	}
}

// Load reads a TOML file over the defaults, then applies environment
// overrides. A missing file is not an error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "failed to parse config file %s", path)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	if v := os.Getenv("SHAKESYNC_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("SHAKESYNC_TOKEN"); v != "" {
		cfg.Token = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url must not be empty")
	}
	if c.PollInterval.Duration <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.UsageInterval.Duration <= 0 {
		return errors.New("usage_interval must be positive")
	}
	if c.DashboardFast.Duration <= 0 || c.DashboardSlow.Duration <= 0 {
		return errors.New("dashboard intervals must be positive")
	}
	if c.DashboardFast.Duration > c.DashboardSlow.Duration {
		return errors.New("dashboard_fast_interval must not exceed dashboard_slow_interval")
	}
	return nil
}
