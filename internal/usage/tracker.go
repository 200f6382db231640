// Package usage tracks per-identity request windows and lifetime request
// counts. A Tracker lives for the whole process; nothing is persisted.
package usage

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// Config holds the sliding window quota
type Config struct {
	// Limit is the number of requests admitted per Window
	Limit int
	// Window is the trailing interval the Limit applies to
	Window time.Duration
}

// Tracker is a sliding-window rate limiter that also counts admitted
// requests per identity.
type Tracker struct {
	limit  int
	window time.Duration
	clock  clock.PassiveClock

	mu     sync.Mutex
	hits   map[string][]time.Time
	totals map[string]int64
}

// NewTracker creates a tracker. A nil clk uses the real clock, whose
// readings carry Go's monotonic component.
func NewTracker(cfg Config, clk clock.PassiveClock) *Tracker {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{
		limit:  cfg.Limit,
		window: cfg.Window,
		clock:  clk,
		hits:   make(map[string][]time.Time),
		totals: make(map[string]int64),
	}
}

// Limit returns the number of requests admitted per window.
func (t *Tracker) Limit() int { return t.limit }

// Window returns the quota window.
func (t *Tracker) Window() time.Duration { return t.window }

// Allow decides whether identity may make another request now. On success
// the request is recorded in the window and the lifetime counter.
func (t *Tracker) Allow(identity string) bool {
	now := t.clock.Now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	arr := t.hits[identity]
	kept := arr[:0]
	for _, ts := range arr {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= t.limit {
		t.hits[identity] = kept
		return false
	}
	t.hits[identity] = append(kept, now)
	t.totals[identity]++
	return true
}

// Remaining reports how many requests identity could still make in the
// current window and how long until the oldest entry expires. It does not
// modify the window.
func (t *Tracker) Remaining(identity string) (int, time.Duration) {
	now := t.clock.Now()
	cutoff := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	live := 0
	var oldest time.Time
	for _, ts := range t.hits[identity] {
		if !ts.After(cutoff) {
			continue
		}
		if live == 0 || ts.Before(oldest) {
			oldest = ts
		}
		live++
	}

	remaining := t.limit - live
	if remaining < 0 {
		remaining = 0
	}
	if live == 0 {
		return remaining, 0
	}
	return remaining, oldest.Add(t.window).Sub(now)
}

// Snapshot returns a copy of the lifetime counters keyed by identity.
func (t *Tracker) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int64, len(t.totals))
	for k, v := range t.totals {
		out[k] = v
	}
	return out
}

// Len returns the number of identities with a window (for testing/metrics)
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hits)
}
