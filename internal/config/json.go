package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/zadahmed/everwith-entitlements/internal/flagx"
	"github.com/zadahmed/everwith-entitlements/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds.
type JsonConfig struct {
	APIBaseURL          string          `json:"api_base_url"`
	PipelineBaseURL     string          `json:"pipeline_base_url"`
	ProviderBaseURL     string          `json:"provider_base_url"`
	ProviderAPIKey      string          `json:"provider_api_key"`
	DatabasePath        string          `json:"database_path"`
	RefreshCooldown     *timex.Duration `json:"refresh_cooldown"`
	ForegroundThreshold *timex.Duration `json:"foreground_threshold"`
	ReconcileInterval   *timex.Duration `json:"reconcile_interval"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags via flagx.JsonConfigFlags; when no
// path is given nothing is loaded. Absent fields keep their current values.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.APIBaseURL != "" {
		cfg.APIBaseURL = jc.APIBaseURL
	}
	if jc.PipelineBaseURL != "" {
		cfg.PipelineBaseURL = jc.PipelineBaseURL
	}
	if jc.ProviderBaseURL != "" {
		cfg.ProviderBaseURL = jc.ProviderBaseURL
	}
	if jc.ProviderAPIKey != "" {
		cfg.ProviderAPIKey = jc.ProviderAPIKey
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.RefreshCooldown != nil {
		cfg.RefreshCooldown = time.Duration(jc.RefreshCooldown.Duration)
	}
	if jc.ForegroundThreshold != nil {
		cfg.ForegroundThreshold = time.Duration(jc.ForegroundThreshold.Duration)
	}
	if jc.ReconcileInterval != nil {
		cfg.ReconcileInterval = time.Duration(jc.ReconcileInterval.Duration)
	}
}
