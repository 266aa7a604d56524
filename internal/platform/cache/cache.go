package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a key/value store with per-key expiry. Deleting an absent key is a
// no-op; every mutation path in the engine ends in a Delete, so delete
// idempotency is what makes concurrent writers safe without locks.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteByPredicate scans keys under prefix and deletes entries whose value
	// matches. Used when invalidating by the external customer id, for which no
	// direct key exists.
	DeleteByPredicate(ctx context.Context, prefix string, match func(value []byte) bool) error
}

var Module = fx.Options(
	fx.Provide(NewRedis),
	fx.Provide(func(r *Redis) Store { return r }),
)
