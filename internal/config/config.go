// Package config implements the gateway configuration loader (C19): a
// single YAML file plus environment-variable overlay, mirroring the
// teacher's read-file-then-decode / validate-after-load shape.
package config

// ProviderSpec is the YAML-decodable mirror of spec §3's Provider Config.
type ProviderSpec struct {
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	RPMLimit    int     `yaml:"rpm_limit"`
	TPMLimit    int     `yaml:"tpm_limit"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"`
	Enabled     bool    `yaml:"enabled"`
}

// RateLimitSpec is the YAML-decodable mirror of spec §6's rate-limits
// configuration inputs.
type RateLimitSpec struct {
	Global struct {
		MaxConcurrent  int `yaml:"max_concurrent"`
		DefaultTimeout int `yaml:"default_timeout"`
	} `yaml:"global"`
	PerProvider map[string]struct {
		RPM        int `yaml:"rpm"`
		RPD        int `yaml:"rpd,omitempty"`
		TPM        int `yaml:"tpm"`
		Burst      int `yaml:"burst"`
		WindowSize int `yaml:"window_size"`
	} `yaml:"per_provider"`
	Retry struct {
		MaxAttempts          int     `yaml:"max_attempts"`
		BaseDelay            float64 `yaml:"base_delay"`
		MaxDelay             float64 `yaml:"max_delay"`
		ExponentialBase      float64 `yaml:"exponential_base"`
		Jitter               float64 `yaml:"jitter"`
		RetryableStatusCodes []int   `yaml:"retryable_status_codes"`
	} `yaml:"retry"`
}

// CostSpec is the YAML-decodable mirror of spec §6's cost configuration.
type CostSpec struct {
	CostLimits struct {
		DailyBudget          float64 `yaml:"daily_budget"`
		AlertAtPercent       float64 `yaml:"alert_at_percent"`
		BudgetExceededAction string  `yaml:"budget_exceeded_action"`
	} `yaml:"cost_limits"`
	RoutingRules map[string]struct {
		Providers []string `yaml:"providers"`
	} `yaml:"routing_rules"`
}

// RouterSpec is the YAML-decodable mirror of spec §6's router configuration.
type RouterSpec struct {
	Agents map[string]struct {
		Primary  string   `yaml:"primary"`
		Fallback []string `yaml:"fallback"`
	} `yaml:"agents"`
	Default struct {
		Primary  string   `yaml:"primary"`
		Fallback []string `yaml:"fallback"`
	} `yaml:"default"`
}

// Config is the fully decoded gateway configuration.
type Config struct {
	Providers   []ProviderSpec `yaml:"providers"`
	RateLimits  RateLimitSpec  `yaml:"rate_limits"`
	Cost        CostSpec       `yaml:"cost"`
	Router      RouterSpec     `yaml:"router"`
	AgentsDir   string         `yaml:"agents_dir"`
	LogFile     string         `yaml:"log_file,omitempty"`
	HTTPAddr    string         `yaml:"http_addr,omitempty"`
}

// applyDefaults fills in documented defaults for any zero-valued optional
// field, per spec §6.
func (c *Config) applyDefaults() {
	if c.RateLimits.Global.MaxConcurrent == 0 {
		c.RateLimits.Global.MaxConcurrent = 12
	}
	if c.RateLimits.Global.DefaultTimeout == 0 {
		c.RateLimits.Global.DefaultTimeout = 30
	}
	if c.RateLimits.Retry.MaxAttempts == 0 {
		c.RateLimits.Retry.MaxAttempts = 3
	}
	if c.RateLimits.Retry.BaseDelay == 0 {
		c.RateLimits.Retry.BaseDelay = 0.5
	}
	if c.RateLimits.Retry.MaxDelay == 0 {
		c.RateLimits.Retry.MaxDelay = 30
	}
	if c.RateLimits.Retry.ExponentialBase == 0 {
		c.RateLimits.Retry.ExponentialBase = 2.0
	}
	if c.RateLimits.Retry.Jitter == 0 {
		c.RateLimits.Retry.Jitter = 0.1
	}
	if len(c.RateLimits.Retry.RetryableStatusCodes) == 0 {
		c.RateLimits.Retry.RetryableStatusCodes = []int{500, 502, 503, 504}
	}
	for name, spec := range c.RateLimits.PerProvider {
		if spec.WindowSize == 0 {
			spec.WindowSize = 60
			c.RateLimits.PerProvider[name] = spec
		}
	}
	if c.Cost.CostLimits.BudgetExceededAction == "" {
		c.Cost.CostLimits.BudgetExceededAction = "fallback_to_free"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
}

// validate checks structural invariants spec §3 requires, per the teacher's
// validate-after-load pattern.
func (c *Config) validate() error {
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errRequiredField("providers[].name")
		}
		if p.Type == "" {
			return errRequiredField("providers[].type")
		}
		names[p.Name] = true
	}
	for provider, spec := range c.RateLimits.PerProvider {
		if spec.Burst < 1 {
			return errInvalid("rate_limits.per_provider." + provider + ".burst", "must be >= 1")
		}
	}
	return nil
}
