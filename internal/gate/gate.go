// Package gate implements the process-wide concurrency ceiling (C7): a
// counting semaphore bounding the number of in-flight upstream calls
// regardless of which provider they target.
package gate

import "context"

// Gate is a buffered-channel semaphore. Acquire/Release are safe for
// concurrent use; Release is guaranteed to run on every exit path
// (including cancellation) when callers use Acquire's returned release
// function with defer.
type Gate struct {
	tokens chan struct{}
}

// New builds a gate with the given maximum concurrency (default 12 per
// spec §4.6).
func New(maxConcurrent int) *Gate {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Gate{tokens: make(chan struct{}, maxConcurrent)}
}

// Acquire blocks until a slot is free or ctx is cancelled, returning a
// release function that callers MUST defer immediately upon success.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.tokens <- struct{}{}:
		return func() { <-g.tokens }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InUse reports the current number of held slots, for gauges.
func (g *Gate) InUse() int { return len(g.tokens) }

// Capacity reports the configured maximum concurrency.
func (g *Gate) Capacity() int { return cap(g.tokens) }
