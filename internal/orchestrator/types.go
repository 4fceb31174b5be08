// Package orchestrator implements the request lifecycle (C15) and optional
// plan executor (C16): the component owning context, prompt assembly,
// history, provider selection, the upstream call, and response recording.
package orchestrator

import "github.com/fenwick-io/llmgateway/internal/cost"

// ExecutionRequest is the inbound unit of work, per spec §3.
type ExecutionRequest struct {
	AgentID        string
	Task           string
	UserID         string
	ConversationID string
	Metadata       map[string]string
	MaxTokens      int
	Temperature    float64
	Complexity     cost.Complexity // empty means "infer"
}

// ResponseMetadata mirrors spec §3's Execution Response metadata record.
type ResponseMetadata struct {
	RequestID    string
	LatencyMs    int64
	TokensInput  int
	TokensOutput int
	FallbackUsed bool
	Turns        int
}

// ExecutionResponse is the outbound result, per spec §3.
type ExecutionResponse struct {
	AgentID      string
	AgentName    string
	ProviderName string
	ModelName    string
	ResponseText string
	Metadata     ResponseMetadata
}
