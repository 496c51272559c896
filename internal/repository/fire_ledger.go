package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	pkgredis "EventArb/pkg/redis"
	"EventArb/pkg/util"
)

// RedisFireLedger stores fire records as prefix:fire:<event>:<window> keys
// written with SET NX, which is the single atomic serialization point for
// concurrent or repeated fire attempts.
type RedisFireLedger struct {
	client    *pkgredis.Client
	retention time.Duration
}

// NewRedisFireLedger creates the ledger. retention <= 0 keeps entries forever.
func NewRedisFireLedger(client *pkgredis.Client, retention time.Duration) *RedisFireLedger {
	return &RedisFireLedger{client: client, retention: retention}
}

// Claim inserts the record if absent. true means this caller owns the fire.
func (l *RedisFireLedger) Claim(ctx context.Context, rec models.FireRecord) (bool, error) {
	key := l.client.Key("fire", rec.EventID, strconv.FormatInt(rec.WindowID, 10))
	ttl := l.retention
	if ttl < 0 {
		ttl = 0
	}
	ok, err := l.client.Redis().SetNX(ctx, key, rec.FiredAt.UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("fire ledger claim %s/%d: %w", rec.EventID, rec.WindowID, err)
	}
	return ok, nil
}

// Lookup returns when (event, window) fired, if it did.
func (l *RedisFireLedger) Lookup(ctx context.Context, eventID string, windowID int64) (time.Time, bool, error) {
	key := l.client.Key("fire", eventID, strconv.FormatInt(windowID, 10))
	v, err := l.client.Redis().Get(ctx, key).Result()
	if err != nil {
		if isNil(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("fire ledger lookup: %w", err)
	}
	// a value that does not parse still proves the claim
	t, _ := util.ParseTime(v)
	return t, true, nil
}

var _ domrepo.FireLedger = (*RedisFireLedger)(nil)
