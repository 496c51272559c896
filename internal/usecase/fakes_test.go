package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"

	"github.com/shopspring/decimal"
)

var errStoreDown = errors.New("store down")

type memLedger struct {
	mu      sync.Mutex
	m       map[string]models.FireRecord
	inserts int
	err     error
}

func newMemLedger() *memLedger { return &memLedger{m: make(map[string]models.FireRecord)} }

func (l *memLedger) Claim(_ context.Context, rec models.FireRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	k := fmt.Sprintf("%s:%d", rec.EventID, rec.WindowID)
	if _, ok := l.m[k]; ok {
		return false, nil
	}
	l.m[k] = rec
	l.inserts++
	return true, nil
}

type memDailyStore struct {
	mu     sync.Mutex
	limits models.DailyLimits
	days   map[string]*models.DailyState
	err    error
}

func newMemDailyStore(maxTrades int, lossLimitCents int64) *memDailyStore {
	return &memDailyStore{
		limits: models.DailyLimits{MaxTradesPerDay: maxTrades, DailyLossLimitCents: lossLimitCents},
		days:   make(map[string]*models.DailyState),
	}
}

func (s *memDailyStore) getLocked(day string) *models.DailyState {
	st, ok := s.days[day]
	if !ok {
		st = &models.DailyState{Date: day, MaxTradesPerDay: s.limits.MaxTradesPerDay, DailyLossLimitCents: s.limits.DailyLossLimitCents}
		s.days[day] = st
	}
	return st
}

func (s *memDailyStore) Get(_ context.Context, day string) (models.DailyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.DailyState{}, s.err
	}
	return *s.getLocked(day), nil
}

func (s *memDailyStore) IncrTrades(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	st := s.getLocked(day)
	st.TradesDone++
	return st.TradesDone, nil
}

func (s *memDailyStore) AddLoss(_ context.Context, day string, cents int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	st := s.getLocked(day)
	st.LossCents += cents
	return st.LossCents, nil
}

func (s *memDailyStore) SetEmergencyStop(_ context.Context, day string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	st := s.getLocked(day)
	changed := !st.EmergencyStop
	st.EmergencyStop = true
	return changed, nil
}

func (s *memDailyStore) ClearEmergencyStop(_ context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.getLocked(day).EmergencyStop = false
	return nil
}

type fixedPnL struct {
	before decimal.Decimal
	err    error
}

func (p fixedPnL) RealizedPnLBefore(context.Context, time.Time) (decimal.Decimal, error) {
	return p.before, p.err
}

type fakeExchange struct {
	mu       sync.Mutex
	price    decimal.Decimal
	priceErr error
	filters  *models.SymbolFilters
	orderErr error
	result   *models.OrderResult
	orders   int
}

func (x *fakeExchange) GetPrice(context.Context, string) (decimal.Decimal, error) {
	return x.price, x.priceErr
}

func (x *fakeExchange) SymbolFilters(context.Context, string) (*models.SymbolFilters, error) {
	if x.filters == nil {
		return nil, errors.New("no filters")
	}
	return x.filters, nil
}

func (x *fakeExchange) PlaceMarketOrder(_ context.Context, _ string, _ models.Side, qty decimal.Decimal, _ string) (*models.OrderResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.orders++
	if x.orderErr != nil {
		return nil, x.orderErr
	}
	if x.result != nil {
		return x.result, nil
	}
	return &models.OrderResult{OrderID: "1", Status: "FILLED", FilledQuantity: qty, AvgPrice: x.price}, nil
}

type memTradeStore struct {
	mu     sync.Mutex
	trades map[string]*models.Trade
	closes map[string]*models.TradeClose
	err    error
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{trades: make(map[string]*models.Trade), closes: make(map[string]*models.TradeClose)}
}

func (s *memTradeStore) SaveTrade(_ context.Context, t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.trades[t.ID] = t
	return nil
}

func (s *memTradeStore) GetTrade(_ context.Context, id string) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, domrepo.ErrTradeNotFound
	}
	return t, nil
}

func (s *memTradeStore) SaveClose(_ context.Context, c *models.TradeClose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes[c.TradeID] = c
	return nil
}

func (s *memTradeStore) GetClose(_ context.Context, id string) (*models.TradeClose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.closes[id]
	if !ok {
		return nil, domrepo.ErrTradeNotFound
	}
	return c, nil
}

type memCloseClaims struct {
	mu sync.Mutex
	m  map[string]bool
}

func newMemCloseClaims() *memCloseClaims { return &memCloseClaims{m: make(map[string]bool)} }

func (c *memCloseClaims) ClaimClose(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m[id] {
		return false, nil
	}
	c.m[id] = true
	return true, nil
}

func (c *memCloseClaims) ReleaseClose(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

type memPublisher struct {
	mu    sync.Mutex
	fills []*models.OrderFill
	err   error
}

func (p *memPublisher) PublishFill(_ context.Context, f *models.OrderFill) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.fills = append(p.fills, f)
	return nil
}

func (p *memPublisher) Close() error { return nil }

type reportedAlert struct {
	sev     models.Severity
	source  string
	message string
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []reportedAlert
}

func (r *recordingAlerts) Report(_ context.Context, sev models.Severity, source, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, reportedAlert{sev, source, message})
	return true
}

func (r *recordingAlerts) sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.source)
	}
	return out
}

type handlerFunc func(ctx context.Context, ev models.Event) error

func (f handlerFunc) Handle(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

type countingHandler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (h *countingHandler) Handle(_ context.Context, ev models.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, ev.ID)
	return h.err
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type staticSource struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *staticSource) ListEnabledEvents(context.Context) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...), s.err
}

func (s *staticSource) set(events ...models.Event) {
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
}

type countingMetrics struct {
	domrepo.NopMetrics
	mu         sync.Mutex
	nudges     int
	executions map[string]int
	fires      map[string]int
	missed     int
	trips      int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{executions: map[string]int{}, fires: map[string]int{}}
}

func (m *countingMetrics) RecordNudgeRetry() {
	m.mu.Lock()
	m.nudges++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordExecution(_, result, reason string) {
	m.mu.Lock()
	m.executions[result+":"+reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordFire(result string) {
	m.mu.Lock()
	m.fires[result]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordMissed() {
	m.mu.Lock()
	m.missed++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordBreakerTrip() {
	m.mu.Lock()
	m.trips++
	m.mu.Unlock()
}

type fakeNotifier struct {
	name string
	ok   bool
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Name() string { return n.name }

func (n *fakeNotifier) Send(_ context.Context, msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.ok
}
