package agents

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemGuardStopsRunawayAgent(t *testing.T) {
	var heap atomic.Uint64
	heap.Store(10 << 20)

	g := newMemGuard(4, func() uint64 { return heap.Load() })
	require.NotNil(t, g)
	g.every = 5 * time.Millisecond

	var kills atomic.Int32
	stop := g.watch(context.Background(), "hog", func() { kills.Add(1) })
	defer stop()

	// Growth inside the budget is tolerated.
	heap.Store(13 << 20)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, kills.Load())
	assert.NoError(t, g.err())

	heap.Store(20 << 20)
	require.Eventually(t, func() bool { return kills.Load() == 1 }, time.Second, 5*time.Millisecond)

	err := g.err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMemoryBudget))
	assert.Contains(t, err.Error(), "peak 10 MB")

	// The guard stops sampling once it has fired.
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, kills.Load())
}

func TestMemGuardStopQuietsWatcher(t *testing.T) {
	var heap atomic.Uint64
	g := newMemGuard(1, func() uint64 { return heap.Load() })
	g.every = 5 * time.Millisecond

	killed := false
	stop := g.watch(context.Background(), "calm", func() { killed = true })
	stop()

	// Nothing samples after stop returns, so this write is never seen.
	heap.Store(64 << 20)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, killed)
	assert.NoError(t, g.err())
}

func TestMemGuardDisabled(t *testing.T) {
	g := newMemGuard(0, nil)
	assert.Nil(t, g)

	stop := g.watch(context.Background(), "any", func() { t.Fatal("disabled guard must not kill") })
	stop()
	assert.NoError(t, g.err())
}
