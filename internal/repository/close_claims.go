package repository

import (
	"context"
	"fmt"
	"time"

	domrepo "EventArb/internal/domain/repository"
	pkgredis "EventArb/pkg/redis"
)

// RedisCloseClaims marks a trade as closing with SET NX on
// prefix:close:<trade_id>. The key outlives the ClickHouse write, so a
// repeated close is refused even before the close row is merged.
type RedisCloseClaims struct {
	client    *pkgredis.Client
	retention time.Duration
}

// NewRedisCloseClaims creates the claim store. retention <= 0 keeps claims
// forever.
func NewRedisCloseClaims(client *pkgredis.Client, retention time.Duration) *RedisCloseClaims {
	return &RedisCloseClaims{client: client, retention: retention}
}

func (c *RedisCloseClaims) ClaimClose(ctx context.Context, tradeID string) (bool, error) {
	ttl := c.retention
	if ttl < 0 {
		ttl = 0
	}
	ok, err := c.client.Redis().SetNX(ctx, c.client.Key("close", tradeID), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim close %s: %w", tradeID, err)
	}
	return ok, nil
}

// ReleaseClose drops a claim whose close was never stored.
func (c *RedisCloseClaims) ReleaseClose(ctx context.Context, tradeID string) error {
	if err := c.client.Redis().Del(ctx, c.client.Key("close", tradeID)).Err(); err != nil {
		return fmt.Errorf("release close %s: %w", tradeID, err)
	}
	return nil
}

var _ domrepo.CloseClaims = (*RedisCloseClaims)(nil)
