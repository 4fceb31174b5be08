package gatewayerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  *RateLimit
		want string
	}{
		{
			name: "with retry after",
			err:  &RateLimit{Provider: "anthropic", RetryAfter: 12.5, HasRetryAfter: true},
			want: "anthropic: rate limited, retry after 12.50s",
		},
		{
			name: "without retry after",
			err:  &RateLimit{Provider: "openai"},
			want: "openai: rate limited",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRateLimitUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &RateLimit{Provider: "groq", Cause: cause}
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		overrides  map[int]bool
		wantRetry  bool
	}{
		{name: "unknown status never retryable", status: 0, wantRetry: false},
		{name: "default retryable 503", status: 503, wantRetry: true},
		{name: "default non-retryable 400", status: 400, wantRetry: false},
		{name: "override allows 400", status: 400, overrides: map[int]bool{400: true}, wantRetry: true},
		{name: "override excludes 503", status: 503, overrides: map[int]bool{502: true}, wantRetry: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &APIError{Provider: "p", Status: tt.status}
			assert.Equal(t, tt.wantRetry, e.Retryable(tt.overrides))
		})
	}
}

func TestAPIErrorMessageFormat(t *testing.T) {
	withStatus := &APIError{Provider: "anthropic", Status: 500, Message: "server error"}
	assert.Equal(t, "anthropic: api error (status 500): server error", withStatus.Error())

	withoutStatus := &APIError{Provider: "anthropic", Message: "opaque failure"}
	assert.Equal(t, "anthropic: api error: opaque failure", withoutStatus.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "rate limit always retryable", err: &RateLimit{Provider: "p"}, want: true},
		{name: "timeout always retryable", err: &Timeout{Provider: "p"}, want: true},
		{name: "retryable api error", err: &APIError{Provider: "p", Status: 502}, want: true},
		{name: "non-retryable api error", err: &APIError{Provider: "p", Status: 401}, want: false},
		{name: "input error never retryable", err: &InputError{Field: "task", Message: "required"}, want: false},
		{name: "plain error never retryable", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err, nil))
		})
	}
}

func TestIsRetryableWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("calling provider: %w", &RateLimit{Provider: "p"})
	assert.True(t, IsRetryable(wrapped, nil))
}

func TestProcessComplianceAndAllProvidersFailedMessages(t *testing.T) {
	pc := &ProcessCompliance{Reason: "dependency cycle detected at task \"a\""}
	assert.Contains(t, pc.Error(), "dependency cycle detected")

	apf := &AllProvidersFailed{
		AgentID: "researcher",
		Chain:   []string{"anthropic", "openai"},
		ErrorsByProvider: map[string]error{
			"anthropic": &Timeout{Provider: "anthropic"},
			"openai":    &APIError{Provider: "openai", Status: 500},
		},
	}
	msg := apf.Error()
	assert.Contains(t, msg, "researcher")
	assert.Contains(t, msg, "2 errors")
}

func TestInputErrorFieldOmitted(t *testing.T) {
	e := &InputError{Message: "malformed body"}
	assert.Equal(t, "invalid input: malformed body", e.Error())
}
