// Package discovery implements smart upstream discovery (C12): for
// aggregator providers that front a model catalog (OpenRouter-style), it
// caches the free-model list, picks the best alternative when the
// configured model becomes unavailable, and drives the bounded auto-retry
// loop.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fenwick-io/llmgateway/internal/llm"
)

// ModelInfo is one catalog entry.
type ModelInfo struct {
	ID              string
	Name            string
	ContextLength   int
	PromptPrice     float64
	CompletionPrice float64
}

func (m ModelInfo) isFree() bool {
	return m.PromptPrice == 0 && m.CompletionPrice == 0
}

// CatalogFetcher retrieves the raw model catalog from an aggregator's
// /models endpoint. Implemented by a small HTTP client so tests can stub it.
type CatalogFetcher interface {
	FetchModels(ctx context.Context) ([]ModelInfo, error)
}

// HTTPCatalogFetcher hits an OpenRouter-style /models endpoint.
type HTTPCatalogFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type openrouterModelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Context int    `json:"context_length"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

func (f *HTTPCatalogFetcher) FetchModels(ctx context.Context) ([]ModelInfo, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("discovery: catalog fetch failed with status %d", resp.StatusCode)
	}

	var body openrouterModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make([]ModelInfo, 0, len(body.Data))
	for _, m := range body.Data {
		out = append(out, ModelInfo{
			ID:              m.ID,
			Name:            m.Name,
			ContextLength:   m.Context,
			PromptPrice:     parsePrice(m.Pricing.Prompt),
			CompletionPrice: parsePrice(m.Pricing.Completion),
		})
	}
	return out, nil
}

func parsePrice(s string) float64 {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	if err != nil {
		return -1 // unknown, treated as non-free
	}
	return f
}

// unavailableMarkers classifies "model unavailable" signals (open question
// #3: this is a small, testable, substring-based table rather than relying
// on a single hardcoded check, so new aggregator wording can land with a
// fixture test).
var unavailableMarkers = []string{
	"no endpoints", "not a valid model", "model not found", "model unavailable",
}

// IsModelUnavailable classifies an error's message and HTTP status per
// spec §4.11.
func IsModelUnavailable(status int, message string) bool {
	if status == 404 {
		return true
	}
	lower := strings.ToLower(message)
	for _, marker := range unavailableMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if status == 429 && strings.Contains(lower, "upstream rate") {
		return true
	}
	return false
}

// Aggregator caches a free-model catalog and tracks failed models for one
// aggregator provider instance.
type Aggregator struct {
	fetcher      CatalogFetcher
	cacheTTL     time.Duration
	maxRetries   int
	retrySpacing time.Duration

	mu         sync.Mutex
	cached     []ModelInfo
	cachedAt   time.Time
	failed     map[string]bool
}

// NewAggregator builds a discovery aggregator. cacheTTL defaults to 60
// minutes, maxRetries to 3, retrySpacing to 1s, matching spec §4.11 defaults.
func NewAggregator(fetcher CatalogFetcher, cacheTTL time.Duration, maxRetries int, retrySpacing time.Duration) *Aggregator {
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retrySpacing <= 0 {
		retrySpacing = time.Second
	}
	return &Aggregator{
		fetcher:      fetcher,
		cacheTTL:     cacheTTL,
		maxRetries:   maxRetries,
		retrySpacing: retrySpacing,
		failed:       make(map[string]bool),
	}
}

// FreeModels returns the cached free-model catalog, refreshing it if stale
// or forced.
func (a *Aggregator) FreeModels(ctx context.Context, force bool) ([]ModelInfo, error) {
	a.mu.Lock()
	stale := force || time.Since(a.cachedAt) > a.cacheTTL
	cached := a.cached
	a.mu.Unlock()

	if !stale {
		return cached, nil
	}

	all, err := a.fetcher.FetchModels(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil // serve stale on transient fetch failure
		}
		return nil, err
	}
	var free []ModelInfo
	for _, m := range all {
		if m.isFree() {
			free = append(free, m)
		}
	}

	a.mu.Lock()
	a.cached = free
	a.cachedAt = time.Now()
	a.mu.Unlock()
	return free, nil
}

// MarkFailed records a model as failed for this aggregator, excluding it
// from subsequent picks. If marking it failed would exclude every known
// free model, the failed set is cleared instead (spec §4.11: "if all fail,
// clear and retry").
func (a *Aggregator) MarkFailed(modelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed[modelID] = true
	if len(a.failed) >= len(a.cached) && len(a.cached) > 0 {
		a.failed = make(map[string]bool)
	}
}

var taskHints = map[string][]string{
	"code":      {"coder", "code"},
	"reasoning": {"deepseek", "r1", "chimera"},
}

// PickBest selects the best candidate per spec §4.11: prefer models whose
// id/name matches a task-specific hint, else the largest context window.
func (a *Aggregator) PickBest(models []ModelInfo, taskType string) (ModelInfo, bool) {
	a.mu.Lock()
	failed := make(map[string]bool, len(a.failed))
	for k, v := range a.failed {
		failed[k] = v
	}
	a.mu.Unlock()

	var candidates []ModelInfo
	for _, m := range models {
		if !failed[m.ID] {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return ModelInfo{}, false
	}

	if hints, ok := taskHints[taskType]; ok {
		for _, m := range candidates {
			lower := strings.ToLower(m.ID + " " + m.Name)
			for _, hint := range hints {
				if strings.Contains(lower, hint) {
					return m, true
				}
			}
		}
	}

	best := candidates[0]
	for _, m := range candidates[1:] {
		if m.ContextLength > best.ContextLength {
			best = m
		}
	}
	return best, true
}

// Caller performs one completion call against a specific model, used by
// CallWithAutoFallback to retry against re-picked models.
type Caller func(ctx context.Context, req llm.CompletionRequest, model string) (llm.CompletionResponse, error)

// CallWithAutoFallback implements spec §4.11's call_with_auto_fallback: try
// the current model; on a model-unavailable signal, mark it failed, re-pick,
// and retry, making at most maxRetries calls in total with retrySpacing
// between attempts.
func (a *Aggregator) CallWithAutoFallback(ctx context.Context, req llm.CompletionRequest, initialModel string, call Caller, classify func(err error) (status int, message string)) (llm.CompletionResponse, string, error) {
	model := initialModel
	var lastErr error

	for attempt := 0; attempt < a.maxRetries; attempt++ {
		resp, err := call(ctx, req, model)
		if err == nil {
			return resp, model, nil
		}
		lastErr = err

		status, message := classify(err)
		if !IsModelUnavailable(status, message) {
			return llm.CompletionResponse{}, model, err
		}

		a.MarkFailed(model)
		free, fetchErr := a.FreeModels(ctx, false)
		if fetchErr != nil {
			return llm.CompletionResponse{}, model, fetchErr
		}
		next, ok := a.PickBest(free, req.TaskType)
		if !ok {
			return llm.CompletionResponse{}, model, err
		}
		model = next.ID

		if attempt < a.maxRetries-1 {
			timer := time.NewTimer(a.retrySpacing)
			select {
			case <-ctx.Done():
				timer.Stop()
				return llm.CompletionResponse{}, model, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return llm.CompletionResponse{}, model, lastErr
}
