package interfaces

import (
	"context"
	"time"

	"chatline/pkg/types"
)

// HistoryStore is the durable message log and user registry.
// Pure storage, no policy.
type HistoryStore interface {
	// StoreMessage appends a message; ID is filled in on success
	StoreMessage(ctx context.Context, message *types.Message) error

	// GetOrCreateUser returns the registry entry, creating it with the
	// current time and a zero counter if absent
	GetOrCreateUser(ctx context.Context, username string) (*types.User, bool, error)

	// IncrementCounter adds one to the user's rate window counter
	IncrementCounter(ctx context.Context, username string) error

	// ResetAllCounters sets every user's counter to zero
	ResetAllCounters(ctx context.Context) (int64, error)

	// DeleteOlderThan removes messages sent strictly before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// HistoryWindow returns the catch-up replay for a joining user in
	// chronological order
	HistoryWindow(ctx context.Context, username string, registeredAt time.Time, tail int) ([]*types.Message, error)

	// HealthCheck verifies store connectivity
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the store
	Close() error
}
