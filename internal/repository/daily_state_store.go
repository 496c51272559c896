package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	pkgredis "EventArb/pkg/redis"

	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldTrades        = "trades_done"
	fieldLossCents     = "loss_cents"
	fieldMaxTrades     = "max_trades"
	fieldLossLimit     = "daily_loss_limit_cents"
	fieldEmergencyStop = "emergency_stop"
)

// setStopScript flips emergency_stop to 1 and reports whether it was 0.
var setStopScript = goredis.NewScript(`
local prev = redis.call('HGET', KEYS[1], 'emergency_stop')
redis.call('HSET', KEYS[1], 'emergency_stop', '1')
if prev == '1' then
  return 0
end
return 1
`)

// RedisDailyStateStore keeps one hash per day at prefix:daily:<YYYY-MM-DD>.
// Every write runs in MULTI/EXEC together with HSETNX of the day's seed
// values, so the record is created lazily and increments never race.
type RedisDailyStateStore struct {
	client *pkgredis.Client
	limits models.DailyLimits
}

func NewRedisDailyStateStore(client *pkgredis.Client, limits models.DailyLimits) *RedisDailyStateStore {
	return &RedisDailyStateStore{client: client, limits: limits}
}

func (s *RedisDailyStateStore) key(day string) string {
	return s.client.Key("daily", day)
}

func (s *RedisDailyStateStore) seed(ctx context.Context, pipe goredis.Pipeliner, key string) {
	pipe.HSetNX(ctx, key, fieldTrades, 0)
	pipe.HSetNX(ctx, key, fieldLossCents, 0)
	pipe.HSetNX(ctx, key, fieldMaxTrades, s.limits.MaxTradesPerDay)
	pipe.HSetNX(ctx, key, fieldLossLimit, s.limits.DailyLossLimitCents)
	pipe.HSetNX(ctx, key, fieldEmergencyStop, 0)
}

func (s *RedisDailyStateStore) Get(ctx context.Context, day string) (models.DailyState, error) {
	key := s.key(day)
	var all *goredis.MapStringStringCmd
	_, err := s.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		s.seed(ctx, pipe, key)
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return models.DailyState{}, fmt.Errorf("daily state get %s: %w", day, err)
	}
	return parseDailyState(day, all.Val())
}

func (s *RedisDailyStateStore) IncrTrades(ctx context.Context, day string) (int, error) {
	key := s.key(day)
	var incr *goredis.IntCmd
	_, err := s.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		s.seed(ctx, pipe, key)
		incr = pipe.HIncrBy(ctx, key, fieldTrades, 1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("daily state incr trades %s: %w", day, err)
	}
	return int(incr.Val()), nil
}

// AddLoss adds a signed amount (negative is a loss) to the day's realized
// result and returns the new total.
func (s *RedisDailyStateStore) AddLoss(ctx context.Context, day string, cents int64) (int64, error) {
	key := s.key(day)
	var incr *goredis.IntCmd
	_, err := s.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		s.seed(ctx, pipe, key)
		incr = pipe.HIncrBy(ctx, key, fieldLossCents, cents)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("daily state add loss %s: %w", day, err)
	}
	return incr.Val(), nil
}

func (s *RedisDailyStateStore) SetEmergencyStop(ctx context.Context, day string) (bool, error) {
	key := s.key(day)
	if _, err := s.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		s.seed(ctx, pipe, key)
		return nil
	}); err != nil {
		return false, fmt.Errorf("daily state seed %s: %w", day, err)
	}
	flipped, err := setStopScript.Run(ctx, s.client.Redis(), []string{key}).Int()
	if err != nil {
		return false, fmt.Errorf("daily state set stop %s: %w", day, err)
	}
	return flipped == 1, nil
}

// ClearEmergencyStop is the operator reset. Nothing in the trading path
// calls it.
func (s *RedisDailyStateStore) ClearEmergencyStop(ctx context.Context, day string) error {
	key := s.key(day)
	_, err := s.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		s.seed(ctx, pipe, key)
		pipe.HSet(ctx, key, fieldEmergencyStop, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("daily state clear stop %s: %w", day, err)
	}
	return nil
}

func parseDailyState(day string, m map[string]string) (models.DailyState, error) {
	st := models.DailyState{Date: day}
	var err error
	if st.TradesDone, err = atoiField(m, fieldTrades); err != nil {
		return st, err
	}
	if st.LossCents, err = parseInt64Field(m, fieldLossCents); err != nil {
		return st, err
	}
	if st.MaxTradesPerDay, err = atoiField(m, fieldMaxTrades); err != nil {
		return st, err
	}
	if st.DailyLossLimitCents, err = parseInt64Field(m, fieldLossLimit); err != nil {
		return st, err
	}
	st.EmergencyStop = m[fieldEmergencyStop] == "1"
	return st, nil
}

func atoiField(m map[string]string, field string) (int, error) {
	v, err := parseInt64Field(m, field)
	return int(v), err
}

func parseInt64Field(m map[string]string, field string) (int64, error) {
	raw, ok := m[field]
	if !ok {
		return 0, fmt.Errorf("daily state: field %s missing", field)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("daily state: field %s: %w", field, err)
	}
	return v, nil
}

func isNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

var _ domrepo.DailyStateStore = (*RedisDailyStateStore)(nil)
