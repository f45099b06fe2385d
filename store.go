package tincan

import (
	"context"
	"time"
)

// Store is the Strategy interface for the key-value substrate. Every
// operation is atomic on a single key; Redis is the reference backend.
type Store interface {
	// AddMember adds member to the set at key (SADD). Re-adding is a no-op.
	AddMember(ctx context.Context, key, member string) error
	// Members returns the set at key (SMEMBERS); empty when absent.
	Members(ctx context.Context, key string) ([]string, error)
	// Push appends values to the tail of the list at key (RPUSH).
	Push(ctx context.Context, key string, values ...string) error
	// BlockingPop removes the head of the first non-empty list among keys
	// (BLPOP). A zero timeout blocks until an item arrives, ctx is done or
	// the store is closed; otherwise ErrPopTimeout is returned on expiry.
	BlockingPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, err error)
	// Get returns the value at key (GET) or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key (SET), overwriting. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases resources and unblocks pending BlockingPop calls.
	Close(ctx context.Context) error
}

// Inspector exposes non-blocking list reads used by tests and tooling.
type Inspector interface {
	// Pop removes the head of the list at key (LPOP) or returns ErrNotFound.
	Pop(ctx context.Context, key string) (string, error)
	// Range returns list elements between start and stop inclusive (LRANGE).
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
}
