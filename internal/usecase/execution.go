package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	applogger "EventArb/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ExecutionConfig holds the defaults used when the exchange does not report
// filters for a symbol (and always in simulation).
type ExecutionConfig struct {
	Simulation      bool
	MinNotional     decimal.Decimal
	NotionalMargin  decimal.Decimal
	QtyPrecision    int32
	PricePrecision  int32
	TickSize        decimal.Decimal
	MaxNudgeRetries int
	OrderTimeout    time.Duration
}

// ExecutionRequest is one sized order. Percentages are in percent units.
type ExecutionRequest struct {
	EventID  string
	Symbol   string
	Side     models.Side
	Notional decimal.Decimal
	Price    decimal.Decimal
	SLPct    float64
	TPPct    float64
}

// Executor turns a sizing decision into a validated, protected order.
type Executor struct {
	exchange domrepo.Exchange
	cfg      ExecutionConfig
	metrics  domrepo.Metrics
	stats    *ExecutionStats
	log      *applogger.Logger
	now      func() time.Time
	newID    func() string
}

func NewExecutor(exchange domrepo.Exchange, cfg ExecutionConfig, metrics domrepo.Metrics, log *applogger.Logger) *Executor {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if log == nil {
		log = applogger.Nop()
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	return &Executor{
		exchange: exchange,
		cfg:      cfg,
		metrics:  metrics,
		stats:    NewExecutionStats(),
		log:      log.With(applogger.String("component", "execution")),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Stats exposes per-symbol success counters.
func (e *Executor) Stats() *ExecutionStats { return e.stats }

func (e *Executor) defaultFilters(symbol string) models.SymbolFilters {
	return models.SymbolFilters{
		Symbol:         symbol,
		MinNotional:    e.cfg.MinNotional,
		TickSize:       e.cfg.TickSize,
		QtyPrecision:   e.cfg.QtyPrecision,
		PricePrecision: e.cfg.PricePrecision,
	}
}

// filters merges exchange filters over the configured defaults.
func (e *Executor) filters(ctx context.Context, symbol string) models.SymbolFilters {
	f := e.defaultFilters(symbol)
	if e.cfg.Simulation || e.exchange == nil {
		return f
	}
	xf, err := e.exchange.SymbolFilters(ctx, symbol)
	if err != nil {
		e.log.Warn("symbol filters unavailable, using defaults", applogger.String("symbol", symbol), applogger.Error(err))
		return f
	}
	if xf.MinNotional.IsPositive() {
		f.MinNotional = xf.MinNotional
	}
	if xf.TickSize.IsPositive() {
		f.TickSize = xf.TickSize
		f.PricePrecision = xf.PricePrecision
	}
	if xf.StepSize.IsPositive() {
		f.QtyPrecision = xf.QtyPrecision
	}
	return f
}

// ValidateAndSize lifts quantity to the minimum notional plus margin when
// qty*price falls below it. Otherwise qty is returned unchanged.
func (e *Executor) ValidateAndSize(qty, price decimal.Decimal, f models.SymbolFilters) (decimal.Decimal, bool, error) {
	if !price.IsPositive() {
		return decimal.Zero, false, ErrInvalidPrice
	}
	if qty.Mul(price).GreaterThanOrEqual(f.MinNotional) {
		return qty, false, nil
	}
	one := decimal.NewFromInt(1)
	sized := f.MinNotional.Div(price).Mul(one.Add(e.cfg.NotionalMargin)).RoundCeil(f.QtyPrecision)
	if !sized.IsPositive() || sized.Mul(price).LessThan(f.MinNotional) {
		return decimal.Zero, false, ErrBelowMinNotional
	}
	return sized, true, nil
}

// DeriveProtectivePrices returns stop-loss and take-profit for entry.
// slPct and tpPct are fractions (0.018 for 1.8%). A pair that does not
// bracket entry is nudged one tick at a time, at most MaxNudgeRetries times,
// before failing with ErrInvalidRelation.
func (e *Executor) DeriveProtectivePrices(entry, slPct, tpPct decimal.Decimal, side models.Side, f models.SymbolFilters) (decimal.Decimal, decimal.Decimal, error) {
	if !entry.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidPrice
	}
	one := decimal.NewFromInt(1)
	var sl, tp decimal.Decimal
	switch side {
	case models.SideBuy:
		sl = entry.Mul(one.Sub(slPct))
		tp = entry.Mul(one.Add(tpPct))
	case models.SideSell:
		sl = entry.Mul(one.Add(slPct))
		tp = entry.Mul(one.Sub(tpPct))
	default:
		return decimal.Zero, decimal.Zero, ErrInvalidSide
	}
	sl = sl.Round(f.PricePrecision)
	tp = tp.Round(f.PricePrecision)

	tick := f.TickSize
	if !tick.IsPositive() {
		tick = decimal.New(1, -f.PricePrecision)
	}

	for attempt := 0; ; attempt++ {
		if validRelation(entry, sl, tp, side) {
			return sl, tp, nil
		}
		if attempt >= e.cfg.MaxNudgeRetries {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: entry=%s sl=%s tp=%s side=%s", ErrInvalidRelation, entry, sl, tp, side)
		}
		e.metrics.RecordNudgeRetry()
		if side == models.SideBuy {
			if sl.GreaterThanOrEqual(entry) {
				sl = sl.Sub(tick)
			}
			if tp.LessThanOrEqual(entry) {
				tp = tp.Add(tick)
			}
		} else {
			if sl.LessThanOrEqual(entry) {
				sl = sl.Add(tick)
			}
			if tp.GreaterThanOrEqual(entry) {
				tp = tp.Sub(tick)
			}
		}
	}
}

func validRelation(entry, sl, tp decimal.Decimal, side models.Side) bool {
	if side == models.SideBuy {
		return sl.IsPositive() && sl.LessThan(entry) && entry.LessThan(tp)
	}
	return tp.IsPositive() && tp.LessThan(entry) && entry.LessThan(sl)
}

// Execute sizes, protects and places one market order. Every call records
// exactly one success or failure.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) (*models.OrderFill, error) {
	start := e.now()
	fill, err := e.execute(ctx, req)
	e.metrics.RecordLatency("execute", e.now().Sub(start).Seconds())
	if err != nil {
		reason := FailureReason(err)
		e.metrics.RecordExecution(req.Symbol, "failure", reason)
		e.stats.Record(req.Symbol, false)
		e.log.Error("execution failed",
			applogger.String("symbol", req.Symbol),
			applogger.String("side", string(req.Side)),
			applogger.String("reason", reason),
			applogger.Error(err),
		)
		return nil, err
	}
	e.metrics.RecordExecution(req.Symbol, "success", "")
	e.stats.Record(req.Symbol, true)
	if fill.Adjusted {
		e.metrics.RecordAdjusted(req.Symbol)
	}
	e.log.Info("order filled",
		applogger.String("symbol", fill.Symbol),
		applogger.String("side", string(fill.Side)),
		applogger.String("qty", fill.Quantity.String()),
		applogger.String("price", fill.FillPrice.String()),
		applogger.String("sl", fill.StopLoss.String()),
		applogger.String("tp", fill.TakeProfit.String()),
		applogger.Bool("adjusted", fill.Adjusted),
		applogger.Bool("simulated", fill.Simulated),
	)
	return fill, nil
}

func (e *Executor) execute(ctx context.Context, req ExecutionRequest) (*models.OrderFill, error) {
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return nil, &ExecError{Reason: ReasonInvalidSide, Err: ErrInvalidSide}
	}
	if !req.Price.IsPositive() || !req.Notional.IsPositive() {
		return nil, &ExecError{Reason: ReasonInvalidPrice, Err: ErrInvalidPrice}
	}

	f := e.filters(ctx, req.Symbol)
	raw := req.Notional.Div(req.Price).Truncate(f.QtyPrecision)
	qty, adjusted, err := e.ValidateAndSize(raw, req.Price, f)
	if err != nil {
		reason := ReasonBelowMinNotional
		if errors.Is(err, ErrInvalidPrice) {
			reason = ReasonInvalidPrice
		}
		return nil, &ExecError{Reason: reason, Err: err}
	}
	if adjusted {
		e.log.Info("quantity raised to minimum notional",
			applogger.String("symbol", req.Symbol),
			applogger.String("raw_qty", raw.String()),
			applogger.String("qty", qty.String()),
		)
	}

	slPct := decimal.NewFromFloat(req.SLPct).Div(hundred)
	tpPct := decimal.NewFromFloat(req.TPPct).Div(hundred)
	sl, tp, err := e.DeriveProtectivePrices(req.Price, slPct, tpPct, req.Side, f)
	if err != nil {
		return nil, &ExecError{Reason: ReasonInvalidRelation, Err: err}
	}

	fill := &models.OrderFill{
		ClientOrderID: e.newID(),
		EventID:       req.EventID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      qty,
		FillPrice:     req.Price,
		StopLoss:      sl,
		TakeProfit:    tp,
		Adjusted:      adjusted,
		Simulated:     e.cfg.Simulation,
		Status:        "FILLED",
	}

	if !e.cfg.Simulation {
		octx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		res, err := e.exchange.PlaceMarketOrder(octx, req.Symbol, req.Side, qty, fill.ClientOrderID)
		cancel()
		if err != nil {
			return nil, classifyExchangeError(err)
		}
		fill.OrderID = res.OrderID
		fill.Status = res.Status
		if res.FilledQuantity.IsPositive() {
			fill.Quantity = res.FilledQuantity
		}
		if res.AvgPrice.IsPositive() {
			fill.FillPrice = res.AvgPrice
		}
	}

	fill.Notional = fill.Quantity.Mul(fill.FillPrice)
	fill.FilledAt = e.now().UTC()
	return fill, nil
}

func classifyExchangeError(err error) error {
	switch {
	case domrepo.IsTimeout(err):
		return &ExecError{Reason: ReasonExchangeTimeout, Err: err}
	case errors.Is(err, domrepo.ErrRejected):
		return &ExecError{Reason: ReasonExchangeRejected, Err: err}
	default:
		return &ExecError{Reason: ReasonExchangeError, Err: err}
	}
}

// SymbolStats are execution counters for one symbol.
type SymbolStats struct {
	Symbol      string  `json:"symbol"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}

// ExecutionStats aggregates execution outcomes in memory.
type ExecutionStats struct {
	mu sync.Mutex
	m  map[string]*SymbolStats
}

func NewExecutionStats() *ExecutionStats {
	return &ExecutionStats{m: make(map[string]*SymbolStats)}
}

func (s *ExecutionStats) Record(symbol string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, found := s.m[symbol]
	if !found {
		st = &SymbolStats{Symbol: symbol}
		s.m[symbol] = st
	}
	if ok {
		st.Successes++
	} else {
		st.Failures++
	}
	st.SuccessRate = float64(st.Successes) / float64(st.Successes+st.Failures)
}

// For returns the counters of one symbol; ok is false if none were recorded.
func (s *ExecutionStats) For(symbol string) (SymbolStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[symbol]
	if !ok {
		return SymbolStats{Symbol: symbol}, false
	}
	return *st, true
}

// All returns every symbol's counters sorted by symbol.
func (s *ExecutionStats) All() []SymbolStats {
	s.mu.Lock()
	out := make([]SymbolStats, 0, len(s.m))
	for _, st := range s.m {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
