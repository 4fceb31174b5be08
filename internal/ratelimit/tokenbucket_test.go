package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketAcquireDrainsCapacity(t *testing.T) {
	b := NewTokenBucket(3, 60, time.Minute)
	for i := 0; i < 3; i++ {
		assert.NoError(t, b.Acquire(context.Background(), "p"))
	}
	assert.InDelta(t, 0, b.Available(), 0.01)
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	b := NewTokenBucket(1, 600, time.Minute) // 10 tokens/sec
	assert.NoError(t, b.Acquire(context.Background(), "p"))
	assert.Less(t, b.Available(), 1.0)

	time.Sleep(150 * time.Millisecond)
	assert.Greater(t, b.Available(), 0.5)
}

func TestTokenBucketRejectsWhenWaitExceedsWindow(t *testing.T) {
	b := NewTokenBucket(1, 1, 10*time.Millisecond) // 1/60 tokens/sec, window tiny
	assert.NoError(t, b.Acquire(context.Background(), "p"))

	err := b.Acquire(context.Background(), "p")
	assert.Error(t, err)
}

func TestTokenBucketAcquireStopsWaitingOnContextCancellation(t *testing.T) {
	b := NewTokenBucket(1, 1, time.Minute) // near-zero refill rate, long window
	assert.NoError(t, b.Acquire(context.Background(), "p"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Acquire(ctx, "p") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return promptly after context cancellation")
	}
}

func TestTokenBucketResetRestoresCapacity(t *testing.T) {
	b := NewTokenBucket(2, 60, time.Minute)
	assert.NoError(t, b.Acquire(context.Background(), "p"))
	assert.NoError(t, b.Acquire(context.Background(), "p"))
	b.Reset()
	assert.InDelta(t, 2, b.Available(), 0.01)
}

func TestTokenBucketSetRefillRatePreservesTokens(t *testing.T) {
	b := NewTokenBucket(5, 60, time.Minute)
	assert.NoError(t, b.Acquire(context.Background(), "p"))
	before := b.Available()
	b.SetRefillRate(120)
	assert.InDelta(t, before, b.Available(), 0.01)
}

func TestMultiProviderBucketsIsolatesProviders(t *testing.T) {
	m := NewMultiProviderBuckets()
	// anthropic's 10ms window is shorter than its ~1s refill wait, so the
	// third acquire is rejected instead of waiting.
	m.Register("anthropic", 2, 60, 10*time.Millisecond)
	m.Register("openai", 2, 60, time.Minute)

	assert.NoError(t, m.Get("anthropic").Acquire(context.Background(), "anthropic"))
	assert.NoError(t, m.Get("anthropic").Acquire(context.Background(), "anthropic"))
	assert.Error(t, m.Get("anthropic").Acquire(context.Background(), "anthropic"))

	// openai's bucket is untouched by anthropic's draining.
	assert.InDelta(t, 2, m.Get("openai").Available(), 0.01)
}

func TestMultiProviderBucketsUnregisteredReturnsNil(t *testing.T) {
	m := NewMultiProviderBuckets()
	assert.Nil(t, m.Get("missing"))
}
