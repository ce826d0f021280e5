package session

import (
	"fmt"
	"sync"
	"time"
)

// Rate limiting defaults. Two independent mechanisms protect against
// connection storms:
//   - Sliding-window rate limit: max connect attempts per minute per host.
//   - Consecutive failure block: after N failures in a row, the host is
//     temporarily blocked for BlockDuration.
const (
	DefaultMaxAttemptsPerMinute = 10
	DefaultMaxConsecFailures    = 5
	DefaultBlockDuration        = 5 * time.Minute
)

// RateLimitConfig holds configuration for the connect rate limiter.
type RateLimitConfig struct {
	MaxAttemptsPerMinute int
	MaxConsecFailures    int
	BlockDuration        time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttemptsPerMinute: DefaultMaxAttemptsPerMinute,
		MaxConsecFailures:    DefaultMaxConsecFailures,
		BlockDuration:        DefaultBlockDuration,
	}
}

// hostRateState tracks rate limiting state for a single host.
type hostRateState struct {
	attempts       []time.Time
	consecFailures int
	blockedUntil   time.Time
}

// rateLimiter enforces limits on connect attempts per host. Attempts within
// a sliding one-minute window are counted, and hosts that fail repeatedly
// are blocked for a cooldown period.
type rateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	state  map[string]*hostRateState
	nowFn  func() time.Time // injectable clock for testing
}

func newRateLimiter(config RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		config: config,
		state:  make(map[string]*hostRateState),
		nowFn:  time.Now,
	}
}

// allow records a connect attempt for host and reports whether it may
// proceed. The returned error explains the refusal.
func (r *rateLimiter) allow(host string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	st, ok := r.state[host]
	if !ok {
		st = &hostRateState{}
		r.state[host] = st
	}

	if now.Before(st.blockedUntil) {
		return fmt.Errorf("connections to %s blocked until %s after repeated failures",
			host, st.blockedUntil.Format(time.RFC3339))
	}

	// Drop attempts outside the sliding window.
	cutoff := now.Add(-time.Minute)
	kept := st.attempts[:0]
	for _, t := range st.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.attempts = kept

	if r.config.MaxAttemptsPerMinute > 0 && len(st.attempts) >= r.config.MaxAttemptsPerMinute {
		return fmt.Errorf("too many connection attempts to %s (max %d/minute)",
			host, r.config.MaxAttemptsPerMinute)
	}

	st.attempts = append(st.attempts, now)
	return nil
}

// recordFailure notes a failed connect. After MaxConsecFailures in a row the
// host is blocked for BlockDuration.
func (r *rateLimiter) recordFailure(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[host]
	if !ok {
		st = &hostRateState{}
		r.state[host] = st
	}
	st.consecFailures++
	if r.config.MaxConsecFailures > 0 && st.consecFailures >= r.config.MaxConsecFailures {
		st.blockedUntil = r.nowFn().Add(r.config.BlockDuration)
		st.consecFailures = 0
	}
}

// recordSuccess resets the consecutive failure count for host.
func (r *rateLimiter) recordSuccess(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.state[host]; ok {
		st.consecFailures = 0
		st.blockedUntil = time.Time{}
	}
}
