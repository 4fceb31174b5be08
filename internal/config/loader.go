package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func errRequiredField(field string) error {
	return fmt.Errorf("config: required field missing: %s", field)
}

func errInvalid(field, reason string) error {
	return fmt.Errorf("config: invalid %s: %s", field, reason)
}

// Load reads a YAML config file, overlays GATEWAY_<SECTION>_<FIELD>
// environment variables plus each provider's api_key_env, applies documented
// defaults, and validates the result. Mirrors connectors/config's
// read-file-then-decode / validate-after-load pattern.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverlay(&cfg)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverlay overlays GATEWAY_<SECTION>_<FIELD>=value environment
// variables onto a handful of top-level scalar fields most deployments need
// to override without editing the YAML file (log file path, agents
// directory, HTTP listen address, global concurrency, daily budget). Finer-grained per-provider
// overrides go through each provider's own api_key_env, which the provider
// constructors read directly.
func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("GATEWAY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("GATEWAY_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("GATEWAY_AGENTS_DIR"); v != "" {
		cfg.AgentsDir = v
	}
	if v := os.Getenv("GATEWAY_RATE_LIMITS_GLOBAL_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimits.Global.MaxConcurrent = n
		}
	}
	if v := os.Getenv("GATEWAY_COST_DAILY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.CostLimits.DailyBudget = f
		}
	}
}

// ResolveAPIKey looks up a provider's API key from its configured env var
// name, returning "" if unset (local/Ollama providers legitimately have
// none).
func ResolveAPIKey(spec ProviderSpec) string {
	if spec.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(spec.APIKeyEnv))
}
