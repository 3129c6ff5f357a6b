package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/adapters/realclock"
	"github.com/termbridge/termbridge/internal/ports"
)

// AuthRateLimiter tracks authentication failures per target and enforces
// a lockout once too many accumulate.
type AuthRateLimiter struct {
	mu              sync.RWMutex
	failures        map[string]*authFailure
	maxFailures     int
	lockoutDuration time.Duration
	clock           ports.Clock
}

type authFailure struct {
	count     int
	firstFail time.Time
	lockedAt  time.Time
}

// Fallbacks applied when the configured limits are zero or negative.
const (
	DefaultMaxAuthFailures     = 5
	DefaultAuthLockoutDuration = 5 * time.Minute
)

// NewAuthRateLimiter creates an auth rate limiter. Zero or negative
// arguments fall back to the defaults.
func NewAuthRateLimiter(maxFailures int, lockoutDuration time.Duration, clock ports.Clock) *AuthRateLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultAuthLockoutDuration
	}
	if clock == nil {
		clock = realclock.New()
	}

	return &AuthRateLimiter{
		failures:        make(map[string]*authFailure),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
		clock:           clock,
	}
}

// Configure adjusts the limits at runtime, keeping accumulated failure
// counts. Zero or negative arguments fall back to the defaults.
func (r *AuthRateLimiter) Configure(maxFailures int, lockoutDuration time.Duration) {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultAuthLockoutDuration
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxFailures = maxFailures
	r.lockoutDuration = lockoutDuration
}

// authKey identifies a target the same way credentials do.
func authKey(user, host string, port int) string {
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%s@%s:%d", user, host, port)
}

// IsLocked reports whether authentication against the target is locked
// out, and for how much longer.
func (r *AuthRateLimiter) IsLocked(user, host string, port int) (bool, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.failures[authKey(user, host, port)]
	if !ok {
		return false, 0
	}

	if f.lockedAt.IsZero() {
		return false, 0
	}

	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockoutDuration {
		return false, 0
	}

	return true, r.lockoutDuration - elapsed
}

// RecordFailure records an authentication failure against the target.
func (r *AuthRateLimiter) RecordFailure(user, host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	k := authKey(user, host, port)
	f, ok := r.failures[k]
	if !ok {
		f = &authFailure{firstFail: now}
		r.failures[k] = f
	}

	// An expired lockout starts a fresh count.
	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
		f.count = 0
		f.firstFail = now
		f.lockedAt = time.Time{}
	}

	f.count++

	if f.count >= r.maxFailures {
		f.lockedAt = now
	}
}

// RecordSuccess clears the failure count for the target.
func (r *AuthRateLimiter) RecordSuccess(user, host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.failures, authKey(user, host, port))
}

// Reset clears the failure count for a target.
func (r *AuthRateLimiter) Reset(user, host string, port int) {
	r.RecordSuccess(user, host, port)
}

// Cleanup removes entries whose lockout has expired or that have seen
// no activity for twice the lockout duration.
func (r *AuthRateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for k, f := range r.failures {
		if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
			delete(r.failures, k)
			continue
		}
		if now.Sub(f.firstFail) >= 2*r.lockoutDuration {
			delete(r.failures, k)
		}
	}
}
