package llm

import (
	"context"
	"time"
)

// LegacyProvider is the older call shape some providers still implement:
// (Name, Query, IsHealthy, GetCapabilities, EstimateCost). ProviderAdapter
// bridges it onto the current Provider interface so existing integrations
// don't need an immediate rewrite.
type LegacyProvider interface {
	Name() string
	Query(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsHealthy(ctx context.Context) bool
	GetCapabilities() []string
	EstimateCost(tokensIn, tokensOut int) float64
}

// ProviderAdapter wraps a LegacyProvider so it satisfies Provider.
type ProviderAdapter struct {
	legacy LegacyProvider
}

// NewProviderAdapter builds a Provider-conforming wrapper around a
// LegacyProvider.
func NewProviderAdapter(legacy LegacyProvider) *ProviderAdapter {
	return &ProviderAdapter{legacy: legacy}
}

func (a *ProviderAdapter) Name() string { return a.legacy.Name() }

func (a *ProviderAdapter) Call(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	prompt := req.UserPrompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}
	start := time.Now()
	text, err := a.legacy.Query(ctx, prompt, req.MaxTokens)
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{
		Content:      text,
		TokensInput:  EstimateTokens(prompt),
		TokensOutput: EstimateTokens(text),
		LatencyMs:    time.Since(start).Milliseconds(),
		Model:        req.Model,
		FinishReason: "stop",
		ProviderName: a.legacy.Name(),
	}, nil
}

func (a *ProviderAdapter) HealthCheck(ctx context.Context) HealthStatus {
	healthy := a.legacy.IsHealthy(ctx)
	return HealthStatus{Healthy: healthy, Provider: a.legacy.Name(), CheckedAt: time.Now()}
}

// LegacyAdapter is an alias kept for symmetry with the teacher's naming
// (ProviderAdapter / LegacyAdapter both referred to the same bridge there).
type LegacyAdapter = ProviderAdapter
