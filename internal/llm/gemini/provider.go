// Package gemini implements llm.Provider for Google's Gemini generateContent
// API, whose request/response shape differs from both Anthropic's and the
// OpenAI-compatible family: content parts, a systemInstruction object, and
// usageMetadata for token counts.
package gemini

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
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
	DefaultTimeout    = 120 * time.Second
	DefaultMaxTokens  = 4096
	DefaultModel      = "gemini-2.0-flash"
)

// HTTPClient allows injecting a fake transport in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for Gemini.
type Provider struct {
	apiKey      string
	baseURL     string
	apiVersion  string
	name        string
	model       string
	maxTokens   int
	temperature float64
	client      HTTPClient

	mu sync.RWMutex
}

func New(cfg llm.Config) (*Provider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key (env %s)", cfg.APIKeyEnv)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
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
		apiKey:      apiKey,
		baseURL:     baseURL,
		apiVersion:  DefaultAPIVersion,
		name:        cfg.Name,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SetDefaultModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig  `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type generateResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// geminiRole maps chat roles to Gemini's "user"/"model" vocabulary.
func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
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

	var contents []content
	system := req.SystemPrompt
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			if m.Role == "system" {
				if system == "" {
					system = m.Content
				}
				continue
			}
			contents = append(contents, content{Role: geminiRole(m.Role), Parts: []part{{Text: m.Content}}})
		}
	} else {
		contents = []content{{Role: "user", Parts: []part{{Text: req.UserPrompt}}}}
	}

	body := generateRequest{
		Contents:         contents,
		GenerationConfig: generationConfig{MaxOutputTokens: maxTokens, Temperature: temperature},
	}
	if system != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: err.Error(), Cause: err}
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s", p.baseURL, p.apiVersion, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: err.Error(), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var out generateResponse
	if err := json.Unmarshal(rawBody, &out); err != nil {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: "malformed response: " + err.Error(), Cause: err}
	}
	if len(out.Candidates) == 0 {
		return llm.CompletionResponse{}, &gatewayerr.APIError{Provider: p.name, Message: "no candidates returned"}
	}

	var text string
	for _, part := range out.Candidates[0].Content.Parts {
		text += part.Text
	}

	tokensIn := out.UsageMetadata.PromptTokenCount
	if tokensIn == 0 {
		tokensIn = llm.EstimateTokens(system + req.UserPrompt)
	}
	tokensOut := out.UsageMetadata.CandidatesTokenCount
	if tokensOut == 0 {
		tokensOut = llm.EstimateTokens(text)
	}

	return llm.CompletionResponse{
		Content:      text,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		LatencyMs:    latency,
		Model:        model,
		FinishReason: out.Candidates[0].FinishReason,
		ProviderName: p.name,
	}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) llm.HealthStatus {
	url := fmt.Sprintf("%s/%s/models?key=%s", p.baseURL, p.apiVersion, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return llm.HealthStatus{Healthy: false, Provider: p.name, CheckedAt: time.Now(), Detail: err.Error()}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return llm.HealthStatus{Healthy: false, Provider: p.name, CheckedAt: time.Now(), Detail: err.Error()}
	}
	defer resp.Body.Close()
	return llm.HealthStatus{Healthy: resp.StatusCode < 500, Provider: p.name, CheckedAt: time.Now()}
}

func init() {
	llm.Register("gemini", func(cfg llm.Config) (llm.Provider, error) {
		return New(cfg)
	})
}
