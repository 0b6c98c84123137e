package agents

import (
	"sync"
	"time"
)

// rateLimiter is a sliding one-minute window over agent runs, keyed per
// session and agent, with a global cap across all sessions.
type rateLimiter struct {
	mu         sync.Mutex
	perSession map[string][]time.Time
	global     []time.Time
	sessionMax int
	globalMax  int
	window     time.Duration
	now        func() time.Time
}

func newRateLimiter(perSessionPerMin, globalPerMin int) *rateLimiter {
	return &rateLimiter{
		perSession: make(map[string][]time.Time),
		sessionMax: perSessionPerMin,
		globalMax:  globalPerMin,
		window:     time.Minute,
		now:        time.Now,
	}
}

// AllowFunc records a run if both limits have room.
// agentLimit: -1 = use default sessionMax, 0 = no limiting, N>0 = custom limit.
// A non-positive default or global max disables that check.
func (r *rateLimiter) AllowFunc(session, agent string, agentLimit int) bool {
	if agentLimit == 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	r.global = pruneOld(r.global, cutoff)
	if r.globalMax > 0 && len(r.global) >= r.globalMax {
		return false
	}

	key := session + ":" + agent
	limit := r.sessionMax
	if agentLimit > 0 {
		limit = agentLimit
	}

	r.perSession[key] = pruneOld(r.perSession[key], cutoff)
	if limit > 0 && len(r.perSession[key]) >= limit {
		return false
	}

	r.global = append(r.global, now)
	r.perSession[key] = append(r.perSession[key], now)
	return true
}

func pruneOld(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
