// Package circuit provides a small consecutive-failure circuit breaker used in
// front of outbound collaborators (SMS gateway, sync backend) so a dead
// downstream fails fast instead of burning the caller's timeout budget.
package circuit

import (
	"sync"
	"time"
)

// Breaker opens after a run of consecutive failures and stays open for a
// cooldown period. After the cooldown it half-opens: the next call is allowed
// through and its outcome decides whether the circuit closes again.
type Breaker struct {
	mu sync.RWMutex

	name      string
	threshold int           // consecutive failures to trigger open
	cooldown  time.Duration // how long to stay open

	failures  int
	openUntil time.Time
	open      bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before half-opening.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// New constructs a closed Breaker with the given name.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: 5,
		cooldown:  time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name, used in logs and metrics labels.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. Open circuits reject until the
// cooldown expires, then half-open and let one attempt through.
func (b *Breaker) Allow() bool {
	b.mu.RLock()
	if !b.open {
		b.mu.RUnlock()
		return true
	}
	expired := time.Now().After(b.openUntil)
	b.mu.RUnlock()

	if !expired {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Re-check under the write lock; another caller may have half-opened first.
	if b.open && time.Now().After(b.openUntil) {
		b.open = false
		b.failures = 0
	}
	return !b.open
}

// RecordSuccess closes the circuit and clears the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// RecordFailure notes a failed call. It returns true if this call opened the
// circuit, so the caller can log the transition once rather than per failure.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold && !b.open {
		b.open = true
		b.openUntil = time.Now().Add(b.cooldown)
		return true
	}
	if b.open {
		// Failed half-open probe: restart the cooldown.
		b.openUntil = time.Now().Add(b.cooldown)
	}
	return false
}

// IsOpen reports whether the circuit is currently open.
func (b *Breaker) IsOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open
}

// Reset manually closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}
