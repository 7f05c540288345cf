package router

import (
	"context"
	"sync"

	"chatline/pkg/types"
)

// CounterStore is the persisted half of the rate limiter
type CounterStore interface {
	IncrementCounter(ctx context.Context, username string) error
}

// RateLimiter enforces the per-user broadcast quota
// ARCHITECTURAL DISCOVERY: The counter lives in the history store so the
// maintenance scheduler can reset every user's window with one update
type RateLimiter struct {
	limit int
	store CounterStore

	mu     sync.Mutex
	guards map[string]*userGuard // username -> serialization lock
}

// userGuard serializes check-then-record for one username across devices
type userGuard struct {
	mu   sync.Mutex
	refs int
}

// NewRateLimiter creates a limiter allowing limit broadcasts per window
func NewRateLimiter(limit int, store CounterStore) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		store:  store,
		guards: make(map[string]*userGuard),
	}
}

// Limit returns the configured broadcasts per window
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Allow reports whether the user is still under the limit for this window
func (rl *RateLimiter) Allow(user *types.User) bool {
	return user.MessageCount < rl.limit
}

// Record counts one accepted broadcast
func (rl *RateLimiter) Record(ctx context.Context, username string) error {
	return rl.store.IncrementCounter(ctx, username)
}

// Guard blocks until the caller holds username's lock and returns its release.
// Hold it across reading the counter, Allow and Record.
// TECHNICAL DISCOVERY: Guards are reference counted and dropped when unused
// so idle users leave no state behind
func (rl *RateLimiter) Guard(username string) func() {
	rl.mu.Lock()
	guard, exists := rl.guards[username]
	if !exists {
		guard = &userGuard{}
		rl.guards[username] = guard
	}
	guard.refs++
	rl.mu.Unlock()

	guard.mu.Lock()

	return func() {
		guard.mu.Unlock()

		rl.mu.Lock()
		guard.refs--
		if guard.refs == 0 {
			delete(rl.guards, username)
		}
		rl.mu.Unlock()
	}
}

// activeGuards returns how many usernames currently hold guard state
func (rl *RateLimiter) activeGuards() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.guards)
}
