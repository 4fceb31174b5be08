// Package openaicompat implements llm.Provider for every upstream that
// speaks the OpenAI chat-completions wire format: OpenAI itself, Groq,
// Cerebras, OpenRouter, and local OpenAI-compatible servers (Ollama's
// /v1 shim). Only the base URL, default model, and whether an API key is
// required differ between them.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
	"github.com/fenwick-io/llmgateway/internal/llm"
)

// Alias identifies which OpenAI-compatible backend a Provider instance
// targets; it selects the default base URL and whether an API key is
// mandatory, mirroring the three-tier resolution (explicit config > env var
// > hardcoded default) used across the ecosystem for this family of
// backends.
type Alias string

const (
	AliasOpenAI     Alias = "openai"
	AliasGroq       Alias = "groq"
	AliasCerebras   Alias = "cerebras"
	AliasOpenRouter Alias = "openrouter"
	AliasLocal      Alias = "local"
)

var defaultBaseURLs = map[Alias]string{
	AliasOpenAI:     "https://api.openai.com/v1",
	AliasGroq:       "https://api.groq.com/openai/v1",
	AliasCerebras:   "https://api.cerebras.ai/v1",
	AliasOpenRouter: "https://openrouter.ai/api/v1",
	AliasLocal:      "http://localhost:11434/v1",
}

var defaultEnvVars = map[Alias]string{
	AliasOpenAI:     "OPENAI_API_KEY",
	AliasGroq:       "GROQ_API_KEY",
	AliasCerebras:   "CEREBRAS_API_KEY",
	AliasOpenRouter: "OPENROUTER_API_KEY",
	AliasLocal:      "",
}

const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 4096
)

// HTTPClient allows injecting a fake transport in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for any OpenAI-wire-shaped backend.
type Provider struct {
	name        string
	alias       Alias
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      HTTPClient

	mu sync.RWMutex
}

// New resolves credentials using the explicit-config > env-var > hardcoded-default
// hierarchy and constructs a Provider. Fails fast when the alias requires an
// API key and none was resolved (Local/Ollama does not require one).
func New(cfg llm.Config, alias Alias) (*Provider, error) {
	apiKey := resolveAPIKey(cfg, alias)
	if apiKey == "" && alias != AliasLocal {
		return nil, fmt.Errorf("%s: missing API key (env %s)", alias, resolveEnvVarName(cfg, alias))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[alias]
	}
	timeout := DefaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Provider{
		name:        cfg.Name,
		alias:       alias,
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func resolveEnvVarName(cfg llm.Config, alias Alias) string {
	if cfg.APIKeyEnv != "" {
		return cfg.APIKeyEnv
	}
	return defaultEnvVars[alias]
}

func resolveAPIKey(cfg llm.Config, alias Alias) string {
	envVar := resolveEnvVarName(cfg, alias)
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return ""
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SetDefaultModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

func (p *Provider) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func buildMessages(req llm.CompletionRequest) []chatMessage {
	if len(req.Messages) > 0 {
		out := make([]chatMessage, 0, len(req.Messages))
		for _, m := range req.Messages {
			out = append(out, chatMessage{Role: m.Role, Content: m.Content})
		}
		return out
	}
	var out []chatMessage
	if req.SystemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	out = append(out, chatMessage{Role: "user", Content: req.UserPrompt})
	return out
}

// Call performs one chat-completions request. The model used is req.Model if
// set, else the provider's current default (which CallWithModel / smart
// fallback may override per-call).
func (p *Provider) Call(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return p.CallWithModel(ctx, req, req.Model)
}

// CallWithModel performs the request pinned to an explicit model, bypassing
// the provider's configured default. Used by the aggregator smart-fallback
// (C12) to retry against a re-picked free model without mutating shared
// provider state mid-request.
func (p *Provider) CallWithModel(ctx context.Context, req llm.CompletionRequest, model string) (llm.CompletionResponse, error) {
	p.mu.RLock()
	defaultModel := p.model
	maxTokens := p.maxTokens
	temperature := p.temperature
	p.mu.RUnlock()

	if model == "" {
		model = defaultModel
	}
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	body := chatRequest{
		Model:       model,
		Messages:    buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: err.Error(), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: err.Error(), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.alias == AliasOpenRouter {
		httpReq.Header.Set("HTTP-Referer", "https://github.com/fenwick-io/llmgateway")
		httpReq.Header.Set("X-Title", "llmgateway")
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return llm.CompletionResponse{}, &gatewayerr.Timeout{Provider: p.name, Cause: err}
	}
	defer resp.Body.Close()
	rawBody, _ := io.ReadAll(resp.Body)
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, has := llm.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return llm.CompletionResponse{}, &gatewayerr.RateLimit{Provider: p.name, RetryAfter: retryAfter, HasRetryAfter: has}
	}
	if resp.StatusCode >= 400 {
		var errBody apiErrorBody
		_ = json.Unmarshal(rawBody, &errBody)
		msg := errBody.Error.Message
		if msg == "" {
			msg = string(rawBody)
		}
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Status: resp.StatusCode, Message: msg}
	}

	var out chatResponse
	if err := json.Unmarshal(rawBody, &out); err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: "malformed response: " + err.Error(), Cause: err}
	}
	if len(out.Choices) == 0 {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: "empty choices array"}
	}

	text := out.Choices[0].Message.Content
	tokensIn := out.Usage.PromptTokens
	if tokensIn == 0 {
		tokensIn = llm.EstimateTokens(req.SystemPrompt + req.UserPrompt)
	}
	tokensOut := out.Usage.CompletionTokens
	if tokensOut == 0 {
		tokensOut = llm.EstimateTokens(text)
	}
	respModel := out.Model
	if respModel == "" {
		respModel = model
	}

	return llm.CompletionResponse{
		Content:      text,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		LatencyMs:    latency,
		Model:        respModel,
		FinishReason: out.Choices[0].FinishReason,
		ProviderName: p.name,
	}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) llm.HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return llm.HealthStatus{Healthy: false, Provider: p.name, CheckedAt: time.Now(), Detail: err.Error()}
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return llm.HealthStatus{Healthy: false, Provider: p.name, CheckedAt: time.Now(), Detail: err.Error()}
	}
	defer resp.Body.Close()
	return llm.HealthStatus{Healthy: resp.StatusCode < 500, Provider: p.name, CheckedAt: time.Now()}
}

func init() {
	for _, alias := range []Alias{AliasOpenAI, AliasGroq, AliasCerebras, AliasOpenRouter, AliasLocal} {
		alias := alias
		llm.Register(string(alias), func(cfg llm.Config) (llm.Provider, error) {
			return New(cfg, alias)
		})
	}
}
