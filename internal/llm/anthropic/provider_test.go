package anthropic

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
	"github.com/fenwick-io/llmgateway/internal/llm"
)

type fakeHTTPClient struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) { return f.fn(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestProvider(client HTTPClient) *Provider {
	return &Provider{name: "p1", apiKey: "key", baseURL: DefaultBaseURL, apiVersion: DefaultAPIVersion,
		model: "claude-3", maxTokens: 1024, client: client, healthy: true}
}

func TestCallSuccessReturnsParsedContent(t *testing.T) {
	p := newTestProvider(&fakeHTTPClient{fn: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "key", req.Header.Get("x-api-key"))
		return jsonResponse(200, `{"content":[{"type":"text","text":"hello"}],"model":"claude-3","stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`), nil
	}})

	resp, err := p.Call(context.Background(), llm.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 5, resp.TokensInput)
	assert.Equal(t, 2, resp.TokensOutput)
	assert.Equal(t, "p1", resp.ProviderName)
}

func TestCallPartitionsSystemMessages(t *testing.T) {
	var capturedSystem string
	p := newTestProvider(&fakeHTTPClient{fn: func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		capturedSystem = string(body)
		return jsonResponse(200, `{"content":[{"type":"text","text":"ok"}]}`), nil
	}})

	_, err := p.Call(context.Background(), llm.CompletionRequest{Messages: []llm.Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hi"},
	}})
	require.NoError(t, err)
	assert.Contains(t, capturedSystem, "be concise")
	assert.NotContains(t, capturedSystem, `"role":"system"`)
}

func TestCallMapsRateLimitFromStatus429(t *testing.T) {
	p := newTestProvider(&fakeHTTPClient{fn: func(req *http.Request) (*http.Response, error) {
		resp := jsonResponse(429, `{}`)
		resp.Header.Set("Retry-After", "2")
		return resp, nil
	}})

	_, err := p.Call(context.Background(), llm.CompletionRequest{UserPrompt: "hi"})
	var rl *gatewayerr.RateLimit
	require.ErrorAs(t, err, &rl)
	assert.True(t, rl.HasRetryAfter)
	assert.Equal(t, float64(2), rl.RetryAfter)
}

func TestCallMapsAPIErrorFromStatus500(t *testing.T) {
	p := newTestProvider(&fakeHTTPClient{fn: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(500, `{"error":{"type":"overloaded","message":"try again"}}`), nil
	}})

	_, err := p.Call(context.Background(), llm.CompletionRequest{UserPrompt: "hi"})
	var apiErr *gatewayerr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
	assert.Equal(t, "try again", apiErr.Message)
}

func TestCallEstimatesTokensWhenUsageAbsent(t *testing.T) {
	p := newTestProvider(&fakeHTTPClient{fn: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"content":[{"type":"text","text":"1234"}]}`), nil
	}})

	resp, err := p.Call(context.Background(), llm.CompletionRequest{UserPrompt: "abcd"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TokensInput)
	assert.Equal(t, 1, resp.TokensOutput)
}

func TestNewFailsFastWithoutAPIKey(t *testing.T) {
	_, err := New(llm.Config{Name: "p1", APIKeyEnv: "MISSING_KEY"}, "")
	assert.Error(t, err)
}

func TestHealthCheckReflectsInternalState(t *testing.T) {
	p := newTestProvider(&fakeHTTPClient{})
	hs := p.HealthCheck(context.Background())
	assert.True(t, hs.Healthy)
	assert.Equal(t, "p1", hs.Provider)
}
