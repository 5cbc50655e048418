package cache

import (
	"context"
	"time"
)

// Cache is the Redis-shaped store used for judge status, delivery dedupe and
// the contest leaderboards.
type Cache interface {
	BasicOps
	ZSetOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key; a missing key yields "" and no error
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Exists returns the number of given keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)
}

// ZSetOps defines sorted set operations (crucial for leaderboard)
type ZSetOps interface {
	// ZAdd adds or overwrites members with scores in a sorted set
	ZAdd(ctx context.Context, key string, members ...ZMember) error

	// ZScore returns the score of a member and whether it is present
	ZScore(ctx context.Context, key, member string) (float64, bool, error)

	// ZRevRangeWithScores returns members with scores in descending order
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZRevRank returns the 0-based descending rank of a member, or -1 when absent
	ZRevRank(ctx context.Context, key, member string) (int64, error)

	// ZCard returns the number of members in a sorted set
	ZCard(ctx context.Context, key string) (int64, error)
}

// LockOps defines token-guarded lock operations
type LockOps interface {
	// TryLock attempts to acquire key for token.
	// Returns true if the lock was acquired, false if someone else holds it
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ExtendLock resets the TTL of key only when it is still held by token.
	// Returns false once the lock expired or changed hands
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock releases key only when it is still held by token
	Unlock(ctx context.Context, key, token string) (bool, error)
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
