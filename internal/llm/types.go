// Package llm defines the uniform provider contract: request/response shapes,
// the Provider interface, and the registry adapters plug into.
package llm

import "time"

// Message is one turn in a chat-shaped conversation.
type Message struct {
	Role    string `json:"role"` // "user" | "assistant" | "system"
	Content string `json:"content"`
}

// CompletionRequest is the normalized input every adapter accepts. Exactly
// one of (SystemPrompt+UserPrompt) or Messages is populated; adapters that
// need a single flat message list (OpenAI-shaped) synthesize one, and
// adapters that need a separate system slot (Anthropic-shaped) partition one
// out if only Messages was given.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Messages     []Message

	Model       string
	MaxTokens   int
	Temperature float64

	// TaskType informs aggregator adapters' smart-fallback model picks
	// ("code", "reasoning", "general", or "").
	TaskType string
}

// CompletionResponse is the normalized output of a provider call.
type CompletionResponse struct {
	Content       string
	TokensInput   int
	TokensOutput  int
	LatencyMs     int64
	Model         string
	FinishReason  string
	ProviderName  string
}

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	Healthy   bool
	Provider  string
	CheckedAt time.Time
	Detail    string
}

// EstimateTokens applies the 4-chars-per-token heuristic spec §4.1 mandates
// when a provider doesn't report usage.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
