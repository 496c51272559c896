package usecase

import (
	"context"
	"fmt"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	applogger "EventArb/pkg/logger"
	"EventArb/pkg/util"

	"github.com/shopspring/decimal"
)

// Gate reasons.
const (
	ReasonAllowed          = ""
	ReasonEmergencyStop    = "emergency_stop"
	ReasonMaxTrades        = "max_trades"
	ReasonDailyLossPct     = "daily_loss_pct"
	ReasonDailyLossLimit   = "daily_loss_limit"
	ReasonStateUnavailable = "state_unavailable"
)

type RiskConfig struct {
	StartingCapital decimal.Decimal
	MaxDailyLossPct float64
	Location        *time.Location
	StoreTimeout    time.Duration
}

// RiskView is today's state as seen by the gate.
type RiskView struct {
	State        models.DailyState `json:"state"`
	CanTrade     bool              `json:"can_trade"`
	Reason       string            `json:"reason,omitempty"`
	TodayLossPct float64           `json:"today_loss_pct"`
}

// RiskManager gates trading on the day's state. Any state it cannot read
// denies trading.
type RiskManager struct {
	store   domrepo.DailyStateStore
	pnl     domrepo.PnLSource
	cfg     RiskConfig
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time
}

func NewRiskManager(store domrepo.DailyStateStore, pnl domrepo.PnLSource, cfg RiskConfig, metrics domrepo.Metrics, log *applogger.Logger) *RiskManager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &RiskManager{
		store:   store,
		pnl:     pnl,
		cfg:     cfg,
		metrics: metrics,
		log:     log.With(applogger.String("component", "risk")),
		now:     time.Now,
	}
}

func (r *RiskManager) day() string {
	return util.DayKey(r.now(), r.cfg.Location)
}

func (r *RiskManager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

// CanTrade reports whether a new trade may be placed now, and why not.
func (r *RiskManager) CanTrade(ctx context.Context) (bool, string) {
	v := r.evaluate(ctx)
	if !v.CanTrade {
		r.metrics.RecordRiskDenied(v.Reason)
	}
	return v.CanTrade, v.Reason
}

// State returns today's view without counting a denial.
func (r *RiskManager) State(ctx context.Context) RiskView {
	return r.evaluate(ctx)
}

func (r *RiskManager) evaluate(ctx context.Context) RiskView {
	day := r.day()
	sctx, cancel := r.storeCtx(ctx)
	st, err := r.store.Get(sctx, day)
	cancel()
	if err != nil {
		r.log.Error("daily state unreadable, denying trades", applogger.String("day", day), applogger.Error(err))
		return RiskView{State: models.DailyState{Date: day}, Reason: ReasonStateUnavailable}
	}

	v := RiskView{State: st}
	if st.EmergencyStop {
		v.Reason = ReasonEmergencyStop
		return v
	}

	// loss limits latch the breaker even when the trade cap already denies
	pct, err := r.todayLossPct(ctx, st)
	if err != nil {
		r.log.Error("realized pnl unreadable, denying trades", applogger.Error(err))
		v.Reason = ReasonStateUnavailable
		return v
	}
	v.TodayLossPct = pct

	if pct <= -r.cfg.MaxDailyLossPct {
		v.Reason = ReasonDailyLossPct
		r.trip(ctx, day, v.Reason, pct)
		v.State.EmergencyStop = true
		return v
	}
	if st.DailyLossLimitCents > 0 && -st.LossCents >= st.DailyLossLimitCents {
		v.Reason = ReasonDailyLossLimit
		r.trip(ctx, day, v.Reason, pct)
		v.State.EmergencyStop = true
		return v
	}
	if st.TradesDone >= st.MaxTradesPerDay {
		v.Reason = ReasonMaxTrades
		r.log.Warn("daily trade limit reached", applogger.Int("trades_done", st.TradesDone), applogger.Int("max", st.MaxTradesPerDay))
		return v
	}
	v.CanTrade = true
	return v
}

// TodayLossPct is today's realized PnL as a percentage of equity at the
// start of the day. Equity at or below zero yields 0.
func (r *RiskManager) TodayLossPct(ctx context.Context) (float64, error) {
	sctx, cancel := r.storeCtx(ctx)
	st, err := r.store.Get(sctx, r.day())
	cancel()
	if err != nil {
		return 0, err
	}
	return r.todayLossPct(ctx, st)
}

func (r *RiskManager) todayLossPct(ctx context.Context, st models.DailyState) (float64, error) {
	equity := r.cfg.StartingCapital
	if r.pnl != nil {
		sctx, cancel := r.storeCtx(ctx)
		before, err := r.pnl.RealizedPnLBefore(sctx, util.StartOfDay(r.now(), r.cfg.Location))
		cancel()
		if err != nil {
			return 0, fmt.Errorf("realized pnl before today: %w", err)
		}
		equity = equity.Add(before)
	}
	if !equity.IsPositive() {
		return 0, nil
	}
	today := decimal.New(st.LossCents, -2)
	return today.Div(equity).Mul(hundred).InexactFloat64(), nil
}

func (r *RiskManager) trip(ctx context.Context, day, reason string, pct float64) {
	sctx, cancel := r.storeCtx(ctx)
	changed, err := r.store.SetEmergencyStop(sctx, day)
	cancel()
	if err != nil {
		r.log.Error("failed to set emergency stop", applogger.String("day", day), applogger.Error(err))
		return
	}
	if changed {
		r.metrics.RecordBreakerTrip()
		r.log.Warn("emergency stop tripped",
			applogger.String("day", day),
			applogger.String("reason", reason),
			applogger.Float64("today_loss_pct", pct),
		)
	}
}

// TripBreaker latches today's emergency stop. It reports whether the flag
// changed.
func (r *RiskManager) TripBreaker(ctx context.Context, reason string) (bool, error) {
	day := r.day()
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	changed, err := r.store.SetEmergencyStop(sctx, day)
	if err != nil {
		return false, fmt.Errorf("trip breaker: %w", err)
	}
	if changed {
		r.metrics.RecordBreakerTrip()
		r.log.Warn("emergency stop tripped", applogger.String("day", day), applogger.String("reason", reason))
	}
	return changed, nil
}

// ClearEmergencyStop is the operator reset for today's latch.
func (r *RiskManager) ClearEmergencyStop(ctx context.Context) error {
	day := r.day()
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.store.ClearEmergencyStop(sctx, day); err != nil {
		return fmt.Errorf("clear emergency stop: %w", err)
	}
	r.log.Warn("emergency stop cleared by operator", applogger.String("day", day))
	return nil
}

// RecordTrade counts one placed trade for today.
func (r *RiskManager) RecordTrade(ctx context.Context) (int, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	n, err := r.store.IncrTrades(sctx, r.day())
	if err != nil {
		return 0, fmt.Errorf("record trade: %w", err)
	}
	return n, nil
}

// RecordLoss adds a realized result (negative is a loss) to today and trips
// the breaker when the loss threshold is crossed.
func (r *RiskManager) RecordLoss(ctx context.Context, amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(hundred).Round(0).IntPart()
	day := r.day()

	sctx, cancel := r.storeCtx(ctx)
	total, err := r.store.AddLoss(sctx, day, cents)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("record loss: %w", err)
	}
	r.log.Info("realized pnl recorded", applogger.String("day", day), applogger.Int64("cents", cents), applogger.Int64("total_cents", total))

	if cents < 0 {
		// evaluate trips the latch when the threshold is crossed
		r.evaluate(ctx)
	}
	return total, nil
}
