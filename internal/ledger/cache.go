package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/slipbook/slipbook/internal/shared"
)

const bumpChannel = "ledger.bump"

// BalanceCache stores computed balances under a global version that every
// posting bumps. A nil cache or client always computes.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	// stale is set by a failed Bump; reads bypass the cache until a Bump succeeds.
	stale atomic.Bool
}

// NewBalanceCache instantiates the cache helper.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *BalanceCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, shared.BalanceVersionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a concurrent Bump is never overwritten
		if err := c.client.SetNX(ctx, shared.BalanceVersionKey(), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, shared.BalanceVersionKey()).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a versioned key.
func (c *BalanceCache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"ledger", "balance"}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	if c.stale.Load() {
		if err := c.Bump(ctx); err != nil {
			return "", fmt.Errorf("ledger: cache stale: %w", err)
		}
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// Fetch loads a cached value or fills it with loader. Concurrent misses on
// the same key share one loader call.
func (c *BalanceCache) Fetch(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("ledger: cache loader required")
	}
	if c == nil || c.client == nil {
		return roundTrip(ctx, loader, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}

	resultCh := c.group.DoChan(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates every cached balance and announces the new version. When
// the version cannot be advanced the cache stays bypassed until it can.
func (c *BalanceCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, shared.BalanceVersionKey()).Result()
	if err != nil {
		c.stale.Store(true)
		return err
	}
	c.stale.Store(false)
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

func roundTrip(ctx context.Context, loader func(context.Context) (interface{}, error), dest interface{}) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func balanceKeyParts(account int64, asOf time.Time) []string {
	return []string{strconv.FormatInt(account, 10), Day(asOf).Format("2006-01-02")}
}
