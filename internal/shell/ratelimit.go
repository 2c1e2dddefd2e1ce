// ratelimit.go implements connect-attempt rate limiting.
//
// Two complementary limits are enforced per endpoint:
//
//  1. Sliding-window rate limit: max 10 connect attempts per minute.
//  2. Consecutive-failure block: after 5 consecutive failures the endpoint is
//     blocked for 30s, doubling each time up to 5 minutes. A successful
//     connect resets both.

package shell

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/hopshell/internal/logutil"
)

const (
	rateLimitWindow           = 1 * time.Minute
	rateLimitMaxAttempts      = 10
	rateLimitFailureThreshold = 5
	rateLimitInitialBlock     = 30 * time.Second
	rateLimitMaxBlock         = 5 * time.Minute
)

// ErrRateLimited is returned when a connect attempt is rejected by the rate
// limiter.
type ErrRateLimited struct {
	Key        string
	Reason     string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("connect to %s rate limited: %s (retry after %s)", e.Key, e.Reason, e.RetryAfter)
}

type rateState struct {
	attempts            []time.Time
	consecutiveFailures int
	blockedUntil        time.Time
	blockDuration       time.Duration
}

// RateLimiter enforces connect limits keyed by endpoint. It is safe for
// concurrent use and may be shared by sessions.
type RateLimiter struct {
	mu     sync.Mutex
	states map[string]*rateState

	// nowFunc is replaced in tests.
	nowFunc func() time.Time
}

// NewRateLimiter creates a new RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		states:  make(map[string]*rateState),
		nowFunc: time.Now,
	}
}

func (rl *RateLimiter) getOrCreate(key string) *rateState {
	state, ok := rl.states[key]
	if !ok {
		state = &rateState{}
		rl.states[key] = state
	}
	return state
}

// Allow records an attempt for key and returns nil, or returns
// *ErrRateLimited without recording one.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	state := rl.getOrCreate(key)

	if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
		retryAfter := state.blockedUntil.Sub(now)
		log.Printf("[shell] rate limit: %s blocked for %s after %d consecutive failures",
			logutil.SanitizeForLog(key), retryAfter.Round(time.Second), state.consecutiveFailures)
		return &ErrRateLimited{
			Key:        key,
			Reason:     fmt.Sprintf("blocked after %d consecutive failures", state.consecutiveFailures),
			RetryAfter: retryAfter,
		}
	}

	cutoff := now.Add(-rateLimitWindow)
	recent := state.attempts[:0]
	for _, t := range state.attempts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	state.attempts = recent

	if len(state.attempts) >= rateLimitMaxAttempts {
		retryAfter := state.attempts[0].Add(rateLimitWindow).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &ErrRateLimited{
			Key:        key,
			Reason:     fmt.Sprintf("exceeded %d attempts in %s", rateLimitMaxAttempts, rateLimitWindow),
			RetryAfter: retryAfter,
		}
	}

	state.attempts = append(state.attempts, now)
	return nil
}

// RecordSuccess clears the failure counter and any block for key.
func (rl *RateLimiter) RecordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.states[key]
	if !ok {
		return
	}
	state.consecutiveFailures = 0
	state.blockedUntil = time.Time{}
	state.blockDuration = 0
}

// RecordFailure counts a failed connect and blocks key once the threshold
// is reached.
func (rl *RateLimiter) RecordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	state := rl.getOrCreate(key)
	state.consecutiveFailures++

	if state.consecutiveFailures >= rateLimitFailureThreshold {
		if state.blockDuration == 0 {
			state.blockDuration = rateLimitInitialBlock
		} else {
			state.blockDuration *= 2
			if state.blockDuration > rateLimitMaxBlock {
				state.blockDuration = rateLimitMaxBlock
			}
		}
		state.blockedUntil = now.Add(state.blockDuration)
		log.Printf("[shell] rate limit: %s blocked for %s after %d consecutive failures",
			logutil.SanitizeForLog(key), state.blockDuration, state.consecutiveFailures)
	}
}

// Reset removes all state for key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.states, key)
}
