package llm

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fenwick-io/llmgateway/internal/gatewayerr"
)

// RetryConfig controls the exponential backoff + Retry-After facilities of
// C3. MaxWait bounds how long a Retry-After sleep may be before the error is
// re-raised instead of waited out.
type RetryConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ExponentialBase  float64
	Jitter           float64
	RetryableStatus  map[int]bool
	MaxWait          time.Duration
}

// DefaultRetryConfig mirrors the documented spec defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          0.1,
		RetryableStatus: map[int]bool{500: true, 502: true, 503: true, 504: true},
		MaxWait:         300 * time.Second,
	}
}

func (c RetryConfig) backoffDelay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	jitter := d * c.Jitter * (2*rand.Float64() - 1)
	d += jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// RetryWithBackoff runs fn up to MaxAttempts times, sleeping on retryable
// errors per the configured policy. RateLimit errors carrying Retry-After are
// honored (bounded by MaxWait) before falling back to exponential backoff.
func RetryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if !gatewayerr.IsRetryable(err, cfg.RetryableStatus) {
			return zero, err
		}

		var rl *gatewayerr.RateLimit
		var wait time.Duration
		if asRateLimit(err, &rl) && rl.HasRetryAfter {
			retryAfter := time.Duration(rl.RetryAfter * float64(time.Second))
			if retryAfter > cfg.MaxWait {
				return zero, err
			}
			wait = retryAfter
		} else {
			wait = cfg.backoffDelay(attempt)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func asRateLimit(err error, target **gatewayerr.RateLimit) bool {
	if rl, ok := err.(*gatewayerr.RateLimit); ok {
		*target = rl
		return true
	}
	return false
}

// ParseRetryAfter parses a Retry-After header value, accepting either
// delta-seconds or an RFC1123 HTTP-date. Returns (seconds, true) on success.
func ParseRetryAfter(header string) (float64, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return float64(secs), true
	}
	t, err := http.ParseTime(header)
	if err != nil {
		t, err = time.Parse(time.RFC1123, header)
	}
	if err == nil {
		d := time.Until(t).Seconds()
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
