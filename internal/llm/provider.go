package llm

import "context"

// Provider is the uniform interface every upstream adapter implements.
type Provider interface {
	// Name returns the configured provider instance name (not the adapter
	// type — two instances of the same adapter type may be registered under
	// different names, e.g. two OpenRouter accounts).
	Name() string

	// Call performs one completion request against the upstream endpoint.
	// Errors are always one of the gatewayerr taxonomy types.
	Call(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// HealthCheck probes upstream reachability without consuming quota where
	// possible.
	HealthCheck(ctx context.Context) HealthStatus
}

// StreamingProvider is implemented by adapters that can stream partial
// completions. Not all adapters support it; callers type-assert.
type StreamingProvider interface {
	Provider
	CallStream(ctx context.Context, req CompletionRequest, onChunk func(delta string)) (CompletionResponse, error)
}

// ConfigurableProvider exposes mutable runtime configuration (model,
// temperature defaults) separate from construction-time credentials.
type ConfigurableProvider interface {
	Provider
	SetDefaultModel(model string)
}

// Config is the construction-time configuration for a provider instance,
// mirroring spec.md §3's Provider Config entity.
type Config struct {
	Name        string
	Type        string // adapter key: "anthropic", "openai", "groq", "cerebras", "openrouter", "gemini", "local"
	Model       string
	APIKeyEnv   string
	BaseURL     string
	RPMLimit    int
	TPMLimit    int
	MaxTokens   int
	Temperature float64
	Timeout     int // seconds
	Enabled     bool
}
