package config

import "time"

// Config holds runtime settings for the entitlement engine.
//
// Fields:
//   - APIBaseURL: base URL of the backend credit/subscription API.
//   - PipelineBaseURL: base URL of the image-processing job service.
//   - ProviderBaseURL: base URL of the entitlement provider's REST API.
//   - ProviderAPIKey: public API key sent to the provider.
//   - DatabasePath: path of the local SQLite database file.
//   - RefreshCooldown: minimum gap between entitlement refreshes.
//   - ForegroundThreshold: minimum background duration before a
//     foreground event triggers a refresh.
//   - ReconcileInterval: period of the background reconciliation tick.
type Config struct {
	APIBaseURL          string
	PipelineBaseURL     string
	ProviderBaseURL     string
	ProviderAPIKey      string
	DatabasePath        string
	RefreshCooldown     time.Duration
	ForegroundThreshold time.Duration
	ReconcileInterval   time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.PipelineBaseURL = "http://127.0.0.1:8081"
	c.ProviderBaseURL = "https://api.revenuecat.com"
	c.DatabasePath = "everwith.db"
	c.RefreshCooldown = 30 * time.Second
	c.ForegroundThreshold = 5 * time.Minute
	c.ReconcileInterval = 15 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
