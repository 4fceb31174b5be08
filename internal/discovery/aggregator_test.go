package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-io/llmgateway/internal/llm"
)

type fakeFetcher struct {
	models []ModelInfo
	err    error
	calls  int
}

func (f *fakeFetcher) FetchModels(ctx context.Context) ([]ModelInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.models, nil
}

func TestIsModelUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    bool
	}{
		{name: "404 is always unavailable", status: 404, message: "anything", want: true},
		{name: "no endpoints marker", status: 400, message: "No endpoints found for this model", want: true},
		{name: "model not found marker", status: 400, message: "model not found", want: true},
		{name: "upstream rate limited at 429", status: 429, message: "upstream rate limit hit", want: true},
		{name: "plain 429 is not model-unavailable", status: 429, message: "too many requests", want: false},
		{name: "unrelated 500", status: 500, message: "internal error", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsModelUnavailable(tt.status, tt.message))
		})
	}
}

func TestFreeModelsFiltersNonFreeAndCaches(t *testing.T) {
	fetcher := &fakeFetcher{models: []ModelInfo{
		{ID: "free-1", PromptPrice: 0, CompletionPrice: 0},
		{ID: "paid-1", PromptPrice: 1.0, CompletionPrice: 2.0},
	}}
	a := NewAggregator(fetcher, time.Hour, 3, time.Millisecond)

	free, err := a.FreeModels(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "free-1", free[0].ID)

	_, _ = a.FreeModels(context.Background(), false)
	assert.Equal(t, 1, fetcher.calls, "second call within cache TTL must not refetch")
}

func TestFreeModelsForceRefreshes(t *testing.T) {
	fetcher := &fakeFetcher{models: []ModelInfo{{ID: "free-1"}}}
	a := NewAggregator(fetcher, time.Hour, 3, time.Millisecond)

	_, _ = a.FreeModels(context.Background(), false)
	_, _ = a.FreeModels(context.Background(), true)
	assert.Equal(t, 2, fetcher.calls)
}

func TestFreeModelsServesStaleOnTransientFailure(t *testing.T) {
	fetcher := &fakeFetcher{models: []ModelInfo{{ID: "free-1"}}}
	a := NewAggregator(fetcher, time.Nanosecond, 3, time.Millisecond)

	free, err := a.FreeModels(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, free, 1)

	fetcher.err = errors.New("network down")
	free, err = a.FreeModels(context.Background(), true)
	require.NoError(t, err, "a cached catalog should be served instead of the transient error")
	assert.Len(t, free, 1)
}

func TestMarkFailedExcludesModelFromPickBest(t *testing.T) {
	a := NewAggregator(&fakeFetcher{}, time.Hour, 3, time.Millisecond)
	models := []ModelInfo{{ID: "m1", ContextLength: 100}, {ID: "m2", ContextLength: 200}}

	a.cached = models
	a.MarkFailed("m2")

	best, ok := a.PickBest(models, "")
	require.True(t, ok)
	assert.Equal(t, "m1", best.ID)
}

func TestMarkFailedClearsWhenAllModelsFail(t *testing.T) {
	a := NewAggregator(&fakeFetcher{}, time.Hour, 3, time.Millisecond)
	models := []ModelInfo{{ID: "m1"}, {ID: "m2"}}
	a.cached = models

	a.MarkFailed("m1")
	a.MarkFailed("m2")

	best, ok := a.PickBest(models, "")
	assert.True(t, ok, "clearing the failed set on total exhaustion should make models pickable again")
	assert.Contains(t, []string{"m1", "m2"}, best.ID)
}

func TestPickBestPrefersTaskHintOverContextLength(t *testing.T) {
	a := NewAggregator(&fakeFetcher{}, time.Hour, 3, time.Millisecond)
	models := []ModelInfo{
		{ID: "general-large", ContextLength: 100000},
		{ID: "deepseek-coder", ContextLength: 8000},
	}
	best, ok := a.PickBest(models, "code")
	require.True(t, ok)
	assert.Equal(t, "deepseek-coder", best.ID)
}

func TestPickBestFallsBackToLargestContext(t *testing.T) {
	a := NewAggregator(&fakeFetcher{}, time.Hour, 3, time.Millisecond)
	models := []ModelInfo{
		{ID: "small", ContextLength: 4000},
		{ID: "large", ContextLength: 128000},
	}
	best, ok := a.PickBest(models, "")
	require.True(t, ok)
	assert.Equal(t, "large", best.ID)
}

func TestPickBestEmptyCandidatesReturnsFalse(t *testing.T) {
	a := NewAggregator(&fakeFetcher{}, time.Hour, 3, time.Millisecond)
	_, ok := a.PickBest(nil, "")
	assert.False(t, ok)
}

func TestCallWithAutoFallbackSucceedsFirstTry(t *testing.T) {
	a := NewAggregator(&fakeFetcher{}, time.Hour, 3, time.Millisecond)
	resp, model, err := a.CallWithAutoFallback(context.Background(), llm.CompletionRequest{}, "m1",
		func(ctx context.Context, req llm.CompletionRequest, model string) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "ok", Model: model}, nil
		},
		func(err error) (int, string) { return 0, "" },
	)
	require.NoError(t, err)
	assert.Equal(t, "m1", model)
	assert.Equal(t, "ok", resp.Content)
}

func TestCallWithAutoFallbackRetriesOnModelUnavailable(t *testing.T) {
	fetcher := &fakeFetcher{models: []ModelInfo{{ID: "m1"}, {ID: "m2", ContextLength: 1}}}
	a := NewAggregator(fetcher, time.Hour, 3, time.Millisecond)
	a.cached = fetcher.models
	a.cachedAt = time.Now()

	attempt := 0
	resp, model, err := a.CallWithAutoFallback(context.Background(), llm.CompletionRequest{}, "m1",
		func(ctx context.Context, req llm.CompletionRequest, model string) (llm.CompletionResponse, error) {
			attempt++
			if model == "m1" {
				return llm.CompletionResponse{}, errors.New("model not found")
			}
			return llm.CompletionResponse{Content: "ok", Model: model}, nil
		},
		func(err error) (int, string) { return 404, err.Error() },
	)
	require.NoError(t, err)
	assert.Equal(t, "m2", model)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, attempt)
}

func TestCallWithAutoFallbackNonUnavailableErrorStopsImmediately(t *testing.T) {
	a := NewAggregator(&fakeFetcher{}, time.Hour, 3, time.Millisecond)
	calls := 0
	_, _, err := a.CallWithAutoFallback(context.Background(), llm.CompletionRequest{}, "m1",
		func(ctx context.Context, req llm.CompletionRequest, model string) (llm.CompletionResponse, error) {
			calls++
			return llm.CompletionResponse{}, errors.New("auth failed")
		},
		func(err error) (int, string) { return 401, err.Error() },
	)
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "a non-model-unavailable error must not trigger a retry")
}

func TestCallWithAutoFallbackExhaustsRetries(t *testing.T) {
	fetcher := &fakeFetcher{models: []ModelInfo{{ID: "m1"}}}
	a := NewAggregator(fetcher, time.Hour, 2, time.Millisecond)
	a.cached = fetcher.models
	a.cachedAt = time.Now()

	_, _, err := a.CallWithAutoFallback(context.Background(), llm.CompletionRequest{}, "m1",
		func(ctx context.Context, req llm.CompletionRequest, model string) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, errors.New("model not found")
		},
		func(err error) (int, string) { return 404, err.Error() },
	)
	assert.Error(t, err)
}
