package agents

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// ErrMemoryBudget is returned for an agent run stopped by its memory guard.
var ErrMemoryBudget = errors.New("agent exceeded its memory budget")

const memGuardInterval = 100 * time.Millisecond

// heapReader reports the current heap size in bytes.
type heapReader func() uint64

func processHeap() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// memGuard stops an agent run when the heap grows more than budget bytes
// over its starting point. gopher-lua keeps no per-VM accounting, so the
// reading is process-wide and agents running in other sessions count too.
type memGuard struct {
	budget uint64
	every  time.Duration
	read   heapReader
	start  uint64

	peak    atomic.Uint64
	tripped atomic.Bool
}

// newMemGuard returns nil when maxMB <= 0; a nil guard never trips.
func newMemGuard(maxMB int, read heapReader) *memGuard {
	if maxMB <= 0 {
		return nil
	}
	if read == nil {
		read = processHeap
	}
	return &memGuard{
		budget: uint64(maxMB) << 20,
		every:  memGuardInterval,
		read:   read,
		start:  read(),
	}
}

// watch samples the heap until stop is called or ctx ends. kill runs at
// most once, from the sampling goroutine, when the budget is exceeded.
func (g *memGuard) watch(ctx context.Context, agent string, kill func()) (stop func()) {
	if g == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(g.every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				grown := g.growth()
				if grown <= g.budget {
					continue
				}
				g.tripped.Store(true)
				log.Warnw("agent over memory budget, stopping it",
					"agent", agent, "grown_mb", grown>>20, "budget_mb", g.budget>>20)
				kill()
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// growth records and returns how far the heap is above the start point.
func (g *memGuard) growth() uint64 {
	now := g.read()
	if now <= g.start {
		return 0
	}
	grown := now - g.start
	for {
		old := g.peak.Load()
		if grown <= old || g.peak.CompareAndSwap(old, grown) {
			break
		}
	}
	return grown
}

// err reports ErrMemoryBudget once the guard has tripped.
func (g *memGuard) err() error {
	if g == nil || !g.tripped.Load() {
		return nil
	}
	return fmt.Errorf("%w (peak %d MB over start)", ErrMemoryBudget, g.peak.Load()>>20)
}
