// Package anthropic implements the llm.Provider contract for Anthropic's
// Messages API, where the system prompt is a top-level field rather than a
// message with role "system".
package anthropic

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

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 120 * time.Second
	DefaultMaxTokens  = 4096
)

// HTTPClient allows injecting a fake transport in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for Anthropic.
type Provider struct {
	name        string
	apiKey      string
	baseURL     string
	apiVersion  string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	client      HTTPClient

	mu      sync.RWMutex
	healthy bool
}

// New constructs an Anthropic provider. Fails fast (construction-time, not
// call-time) when the API key is missing, per spec §4.1.
func New(cfg llm.Config, apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key (env %s)", cfg.APIKeyEnv)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		apiKey:      apiKey,
		baseURL:     baseURL,
		apiVersion:  DefaultAPIVersion,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		client:      &http.Client{Timeout: timeout},
		healthy:     true,
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SetDefaultModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []anthMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type completionResponse struct {
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// partitionMessages separates role "system" turns out of a flat message list
// into a single system string, since Anthropic's Messages API does not
// accept "system" as a message role.
func partitionMessages(messages []llm.Message) (system string, rest []anthMessage) {
	var sysParts []string
	for _, m := range messages {
		if m.Role == "system" {
			sysParts = append(sysParts, m.Content)
			continue
		}
		rest = append(rest, anthMessage{Role: m.Role, Content: m.Content})
	}
	if len(sysParts) > 0 {
		for i, s := range sysParts {
			if i > 0 {
				system += "\n\n"
			}
			system += s
		}
	}
	return system, rest
}

func (p *Provider) Call(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	p.mu.RLock()
	model := p.model
	maxTokens := p.maxTokens
	temperature := p.temperature
	p.mu.RUnlock()

	if req.Model != "" {
		model = req.Model
	}
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	system := req.SystemPrompt
	var messages []anthMessage
	if len(req.Messages) > 0 {
		var msgSystem string
		msgSystem, messages = partitionMessages(req.Messages)
		if system == "" {
			system = msgSystem
		}
	} else {
		messages = []anthMessage{{Role: "user", Content: req.UserPrompt}}
	}

	body := completionRequest{
		Model:       model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: err.Error(), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: err.Error(), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return llm.CompletionResponse{}, &gatewayerr.Timeout{Provider: p.name, Cause: err}
		}
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

	var out completionResponse
	if err := json.Unmarshal(rawBody, &out); err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: "malformed response: " + err.Error(), Cause: err}
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	tokensIn := out.Usage.InputTokens
	if tokensIn == 0 {
		tokensIn = llm.EstimateTokens(system + req.UserPrompt)
	}
	tokensOut := out.Usage.OutputTokens
	if tokensOut == 0 {
		tokensOut = llm.EstimateTokens(text)
	}

	return llm.CompletionResponse{
		Content:      text,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		LatencyMs:    latency,
		Model:        out.Model,
		FinishReason: out.StopReason,
		ProviderName: p.name,
	}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) llm.HealthStatus {
	p.mu.RLock()
	healthy := p.healthy
	p.mu.RUnlock()
	return llm.HealthStatus{Healthy: healthy, Provider: p.name, CheckedAt: time.Now()}
}

func init() {
	llm.Register("anthropic", func(cfg llm.Config) (llm.Provider, error) {
		return New(cfg, os.Getenv(cfg.APIKeyEnv))
	})
}
