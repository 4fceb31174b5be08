// Package gatewayerr defines the closed error taxonomy propagated across the
// gateway: rate limits, timeouts, opaque upstream API errors, bad input,
// plan-validation failures, and exhausted fallback chains.
package gatewayerr

import (
	"errors"
	"fmt"
)

// RateLimit signals a 429 (or SDK equivalent) from an upstream provider.
type RateLimit struct {
	Provider         string
	RetryAfter       float64 // seconds; 0 means absent
	HasRetryAfter    bool
	Cause            error
}

func (e *RateLimit) Error() string {
	if e.HasRetryAfter {
		return fmt.Sprintf("%s: rate limited, retry after %.2fs", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimit) Unwrap() error { return e.Cause }

// Timeout signals a connection/read timeout or an upstream call exceeding the
// gateway's configured deadline.
type Timeout struct {
	Provider string
	Cause    error
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("%s: timeout", e.Provider)
}

func (e *Timeout) Unwrap() error { return e.Cause }

// APIError wraps any other upstream error, carrying the HTTP status when
// known.
type APIError struct {
	Provider string
	Status   int // 0 means unknown
	Message  string
	Cause    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: api error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: api error: %s", e.Provider, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

// Retryable statuses for APIError per spec default {500,502,503,504}.
var defaultRetryableStatuses = map[int]bool{500: true, 502: true, 503: true, 504: true}

// Retryable reports whether this APIError's status is in the retryable set.
// An empty set falls back to the package default.
func (e *APIError) Retryable(retryableStatuses map[int]bool) bool {
	if e.Status == 0 {
		return false
	}
	if len(retryableStatuses) == 0 {
		return defaultRetryableStatuses[e.Status]
	}
	return retryableStatuses[e.Status]
}

// InputError signals a malformed request, unknown agent, or unregistered
// provider. Never retryable; fails fast.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input (%s): %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid input: %s", e.Message)
}

// ProcessCompliance signals a plan-validation failure (non-DAG dependency
// graph, missing agile metadata, unresolved provider key, ...). Never
// retried.
type ProcessCompliance struct {
	Reason string
}

func (e *ProcessCompliance) Error() string {
	return fmt.Sprintf("process compliance violation: %s", e.Reason)
}

// AllProvidersFailed is raised when a fallback chain is exhausted.
type AllProvidersFailed struct {
	AgentID       string
	Chain         []string
	ErrorsByProvider map[string]error
}

func (e *AllProvidersFailed) Error() string {
	return fmt.Sprintf("all providers failed for agent %q (chain=%v): %d errors", e.AgentID, e.Chain, len(e.ErrorsByProvider))
}

// IsRetryable classifies an error per spec §4.2/§7: RateLimit and Timeout are
// always retryable; APIError is retryable only for configured statuses.
func IsRetryable(err error, retryableStatuses map[int]bool) bool {
	var rl *RateLimit
	if errors.As(err, &rl) {
		return true
	}
	var to *Timeout
	if errors.As(err, &to) {
		return true
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Retryable(retryableStatuses)
	}
	return false
}
