// Package ratelimit provides a per-key sliding-window limiter used to
// bound how many processing jobs one owner may start per minute.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config holds limiter configuration.
type Config struct {
	// Limit is the number of admissions per key within any rolling Window.
	Limit  int
	Window time.Duration

	// CleanupInterval controls how often stale keys are dropped.
	CleanupInterval time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the per-owner processing limit: 10 job starts
// within any rolling minute.
func DefaultConfig() Config {
	return Config{
		Limit:           10,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

type keyState struct {
	// starts keeps the last Limit admitted start times, including
	// reservations in the future. Admission only ever consults the
	// oldest of these, so nothing older needs to be retained.
	starts   []time.Time
	lastUsed time.Time
}

// KeyLimiter admits at most Limit starts per key within any rolling
// Window. Excess reservations are deferred, never dropped: Reserve always
// returns an admission time, it just pushes it out. Safe for concurrent
// use from multiple dispatch workers.
type KeyLimiter struct {
	mu           sync.Mutex
	keys         map[string]*keyState
	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	limit  int
	window time.Duration
	now    func() time.Time
}

// NewKeyLimiter creates a limiter and starts its stale-key cleanup loop.
func NewKeyLimiter(cfg Config) *KeyLimiter {
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &KeyLimiter{
		keys:        make(map[string]*keyState),
		stopCleanup: make(chan struct{}),
		limit:       cfg.Limit,
		window:      cfg.Window,
		now:         cfg.Now,
	}
	go l.startCleanup(cfg.CleanupInterval)
	return l
}

// Reserve books the next admission slot for key and returns the time at
// which the caller may start. The returned time is now when the window
// has room, otherwise the instant the oldest relevant start leaves the
// rolling window.
func (l *KeyLimiter) Reserve(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.keys[key]
	if !ok {
		state = &keyState{}
		l.keys[key] = state
	}
	state.lastUsed = now

	admit := now
	if len(state.starts) >= l.limit {
		if earliest := state.starts[0].Add(l.window); earliest.After(admit) {
			admit = earliest
		}
		state.starts = state.starts[1:]
	}
	state.starts = append(state.starts, admit)
	return admit
}

// Wait reserves a slot for key and blocks until it is admitted or the
// context is cancelled. A cancelled wait gives the slot up for lost; the
// window is a bound, not an exact budget.
func (l *KeyLimiter) Wait(ctx context.Context, key string) error {
	admit := l.Reserve(key)
	delay := admit.Sub(l.now())
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Allow reports whether key has room right now, reserving the slot when
// it does. Deferred admission is not booked on refusal.
func (l *KeyLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.keys[key]
	if !ok {
		state = &keyState{}
		l.keys[key] = state
	}
	state.lastUsed = now

	if len(state.starts) >= l.limit && state.starts[0].Add(l.window).After(now) {
		return false
	}
	if len(state.starts) >= l.limit {
		state.starts = state.starts[1:]
	}
	state.starts = append(state.starts, now)
	return true
}

// ActiveKeys returns the number of currently tracked keys.
func (l *KeyLimiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Stop shuts down the cleanup goroutine.
func (l *KeyLimiter) Stop() {
	l.shutdownOnce.Do(func() {
		close(l.stopCleanup)
	})
}

func (l *KeyLimiter) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStaleKeys()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanupStaleKeys drops keys idle for more than two windows.
func (l *KeyLimiter) cleanupStaleKeys() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-2 * l.window)
	for key, state := range l.keys {
		if state.lastUsed.Before(cutoff) {
			delete(l.keys, key)
		}
	}
}
