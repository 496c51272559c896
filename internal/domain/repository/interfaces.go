package repository

import (
	"context"
	"time"

	"EventArb/internal/domain/models"

	"github.com/shopspring/decimal"
)

// EventSource lists events produced by the ingestion side.
type EventSource interface {
	ListEnabledEvents(ctx context.Context) ([]models.Event, error)
}

// FireLedger is the append-only idempotency record of fired (event, window)
// pairs. Claim must be atomic: exactly one concurrent caller sees true.
type FireLedger interface {
	Claim(ctx context.Context, rec models.FireRecord) (bool, error)
}

// DailyStateStore persists one DailyState per day key. All mutations are
// atomic per key; a missing record is created on first access.
type DailyStateStore interface {
	Get(ctx context.Context, day string) (models.DailyState, error)
	IncrTrades(ctx context.Context, day string) (int, error)
	AddLoss(ctx context.Context, day string, cents int64) (int64, error)
	// SetEmergencyStop reports whether this call flipped the flag.
	SetEmergencyStop(ctx context.Context, day string) (bool, error)
	ClearEmergencyStop(ctx context.Context, day string) error
}

// TradeStore persists trades and their closes.
type TradeStore interface {
	SaveTrade(ctx context.Context, t *models.Trade) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	SaveClose(ctx context.Context, c *models.TradeClose) error
	GetClose(ctx context.Context, tradeID string) (*models.TradeClose, error)
}

// CloseClaims serializes trade closes. ClaimClose must be atomic: exactly
// one caller per trade sees true until the claim is released.
type CloseClaims interface {
	ClaimClose(ctx context.Context, tradeID string) (bool, error)
	ReleaseClose(ctx context.Context, tradeID string) error
}

// PnLSource reports cumulative realized PnL (net of fees) closed before a
// given instant.
type PnLSource interface {
	RealizedPnLBefore(ctx context.Context, before time.Time) (decimal.Decimal, error)
}

// FillPublisher announces fills to downstream consumers.
type FillPublisher interface {
	PublishFill(ctx context.Context, fill *models.OrderFill) error
	Close() error
}

// Exchange is the order placement and market data collaborator.
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	SymbolFilters(ctx context.Context, symbol string) (*models.SymbolFilters, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty decimal.Decimal, clientOrderID string) (*models.OrderResult, error)
}

// Notifier delivers a message to operators. Best effort: failures are
// reported as false, never retried by the caller.
type Notifier interface {
	Name() string
	Send(ctx context.Context, message string) bool
}

type Metrics interface {
	RecordFire(result string)
	RecordMissed()
	SetLiveTriggers(n int)
	RecordExecution(symbol, result, reason string)
	RecordNudgeRetry()
	RecordAdjusted(symbol string)
	RecordAlert(severity string)
	RecordRiskDenied(reason string)
	RecordBreakerTrip()
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordFire(string) {}
func (NopMetrics) RecordMissed() {}
func (NopMetrics) SetLiveTriggers(int) {}
func (NopMetrics) RecordExecution(string, string, string) {}
func (NopMetrics) RecordNudgeRetry() {}
func (NopMetrics) RecordAdjusted(string) {}
func (NopMetrics) RecordAlert(string) {}
func (NopMetrics) RecordRiskDenied(string) {}
func (NopMetrics) RecordBreakerTrip() {}
func (NopMetrics) RecordLatency(string, float64) {}
