package proforma

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/slipbook/slipbook/internal/shared"
)

// Marker publishes the transient Converting state so other sessions can see
// and wait for an in-flight conversion. The store constraint stays authoritative.
type Marker interface {
	Acquire(ctx context.Context, proformaID int64, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, proformaID int64, token string) error
	Held(ctx context.Context, proformaID int64) (bool, error)
}

// RedisMarker keeps markers as expiring redis keys owned by a random token.
type RedisMarker struct {
	client *redis.Client
}

// NewRedisMarker constructs a RedisMarker.
func NewRedisMarker(client *redis.Client) *RedisMarker {
	return &RedisMarker{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (m *RedisMarker) Acquire(ctx context.Context, proformaID int64, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, shared.ConversionMarkerKey(proformaID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the marker only if token still owns it.
func (m *RedisMarker) Release(ctx context.Context, proformaID int64, token string) error {
	err := releaseScript.Run(ctx, m.client, []string{shared.ConversionMarkerKey(proformaID)}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (m *RedisMarker) Held(ctx context.Context, proformaID int64) (bool, error) {
	n, err := m.client.Exists(ctx, shared.ConversionMarkerKey(proformaID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// NoopMarker is used when no redis is configured. Conversions then rely on
// the store constraint alone.
type NoopMarker struct{}

func (NoopMarker) Acquire(context.Context, int64, time.Duration) (string, bool, error) {
	return "noop", true, nil
}

func (NoopMarker) Release(context.Context, int64, string) error { return nil }

func (NoopMarker) Held(context.Context, int64) (bool, error) { return false, nil }
