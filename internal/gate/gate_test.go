package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAcquireRespectsCapacity(t *testing.T) {
	g := New(2)
	assert.Equal(t, 2, g.Capacity())

	release1, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, g.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release1()
	assert.Equal(t, 1, g.InUse())
	release2()
	assert.Equal(t, 0, g.InUse())
}

func TestGateAcquireUnblocksAfterRelease(t *testing.T) {
	g := New(1)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		release2, err := g.Acquire(context.Background())
		require.NoError(t, err)
		release2()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never unblocked after release")
	}
}

func TestGateNewClampsToAtLeastOne(t *testing.T) {
	g := New(0)
	assert.Equal(t, 1, g.Capacity())
}
