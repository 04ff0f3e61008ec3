// Package valkey implements ports.CacheStore on top of Valkey
// (Redis-compatible), the shared KV store for VehicleState, TripUpdateCache,
// SavedSequences, and the Ready flag.
package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Cache implements ports.CacheStore using valkey-go's command builder.
type Cache struct {
	client valkey.Client
}

func New(addr string) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Cache{client: client}, nil
}

// Get retrieves a value by key, returning (nil, nil) if the key is absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if cmd.Error() != nil {
		if valkey.IsValkeyNil(cmd.Error()) {
			return nil, nil
		}
		return nil, cmd.Error()
	}
	return cmd.AsBytes()
}

// Set stores a value with a TTL. A zero ttl stores the key without
// expiration (used by the Ready flag).
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	builder := c.client.B().Set().Key(key).Value(string(value))
	if ttl > 0 {
		return c.client.Do(ctx, builder.Ex(ttl).Build()).Error()
	}
	return c.client.Do(ctx, builder.Build()).Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

// SetAdd adds a member to a set key and refreshes its TTL.
func (c *Cache) SetAdd(ctx context.Context, key string, member int, ttl time.Duration) error {
	if err := c.client.Do(ctx, c.client.B().Sadd().Key(key).Member(fmt.Sprintf("%d", member)).Build()).Error(); err != nil {
		return err
	}
	if ttl > 0 {
		return c.client.Do(ctx, c.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build()).Error()
	}
	return nil
}

// SetHas reports whether member is present in the set key.
func (c *Cache) SetHas(ctx context.Context, key string, member int) (bool, error) {
	cmd := c.client.Do(ctx, c.client.B().Sismember().Key(key).Member(fmt.Sprintf("%d", member)).Build())
	if cmd.Error() != nil {
		return false, cmd.Error()
	}
	return cmd.AsBool()
}

// Exists reports whether a scalar key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	cmd := c.client.Do(ctx, c.client.B().Exists().Key(key).Build())
	if cmd.Error() != nil {
		return false, cmd.Error()
	}
	n, err := cmd.ToInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the client.
func (c *Cache) Close() {
	c.client.Close()
}
