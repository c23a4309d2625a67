package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when scheduled fires for a device are paused
// after repeated playback failures.
var ErrCircuitOpen = errors.New("playback circuit open")

type breakerState struct {
	failures  int
	openUntil time.Time
}

// Breaker counts consecutive playback failures per device.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	states    map[string]*breakerState
}

// NewBreaker creates a breaker. A threshold of zero disables it.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		states:    make(map[string]*breakerState),
	}
}

// Allow reports whether a call for key may proceed.
func (b *Breaker) Allow(key string) bool {
	if b == nil || b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !ok || st.openUntil.IsZero() {
		return true
	}
	if b.now().Before(st.openUntil) {
		return false
	}
	// Half-open: one more failure reopens it.
	st.openUntil = time.Time{}
	st.failures = b.threshold - 1
	return true
}

// Success resets the failure count for key.
func (b *Breaker) Success(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.states, key)
	b.mu.Unlock()
}

// Failure records a failure and reports whether the circuit just opened.
func (b *Breaker) Failure(key string) bool {
	if b == nil || b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !ok {
		st = &breakerState{}
		b.states[key] = st
	}
	st.failures++
	if st.failures >= b.threshold && st.openUntil.IsZero() {
		st.openUntil = b.now().Add(b.cooldown)
		return true
	}
	return false
}
