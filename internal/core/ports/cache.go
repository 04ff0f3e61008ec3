package ports

import (
	"context"
	"time"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// CacheStore is the raw KV interface (Get/Set/Delete). Typed cache
// operations are layered on top in internal/core/services/statecache
// rather than growing this interface, so adapters only ever implement
// these three primitives plus the set operations SavedSequences needs and
// Exists for the Ready flag.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// SetAdd adds a member to a set key, creating it if absent, and resets
	// its TTL. Used for SavedSequences.
	SetAdd(ctx context.Context, key string, member int, ttl time.Duration) error
	// SetHas reports whether a member is present in a set key.
	SetHas(ctx context.Context, key string, member int) (bool, error)

	// Exists reports whether a scalar presence key is set (the Ready flag).
	Exists(ctx context.Context, key string) (bool, error)
}

// VehiclePositionPublisher publishes VehiclePosition messages to the
// vehicle_positions channel.
type VehiclePositionPublisher interface {
	Publish(ctx context.Context, vp domain.VehiclePosition) error
}

// VehiclePositionSubscriber consumes the vehicle_positions channel in
// publication order.
type VehiclePositionSubscriber interface {
	// Subscribe blocks, invoking handler for each message in arrival order,
	// until ctx is cancelled.
	Subscribe(ctx context.Context, handler func(ctx context.Context, vp domain.VehiclePosition) error) error
}
