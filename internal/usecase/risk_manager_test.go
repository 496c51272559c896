package usecase

import (
	"context"
	"testing"
	"time"

	"EventArb/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const riskDay = "2025-03-12"

var riskNow = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

func newTestRisk(store *memDailyStore, pnl fixedPnL, m *countingMetrics) *RiskManager {
	r := NewRiskManager(store, pnl, RiskConfig{
		StartingCapital: d("500"),
		MaxDailyLossPct: 5.0,
		Location:        time.UTC,
	}, m, nil)
	r.now = func() time.Time { return riskNow }
	return r
}

func seedDay(store *memDailyStore, mutate func(st *models.DailyState)) {
	store.mu.Lock()
	defer store.mu.Unlock()
	st := store.getLocked(riskDay)
	mutate(st)
}

func TestCanTradeCircuitBreakerTrip(t *testing.T) {
	store := newMemDailyStore(20, 0)
	m := newCountingMetrics()
	r := newTestRisk(store, fixedPnL{before: d("-20")}, m)
	ctx := context.Background()

	seedDay(store, func(st *models.DailyState) { st.LossCents = -3000 })

	pct, err := r.TodayLossPct(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -6.25, pct, 1e-9)

	ok, reason := r.CanTrade(ctx)
	assert.False(t, ok)
	assert.Equal(t, ReasonDailyLossPct, reason)

	st, err := store.Get(ctx, riskDay)
	require.NoError(t, err)
	assert.True(t, st.EmergencyStop)
	assert.Equal(t, 1, m.trips)

	ok, reason = r.CanTrade(ctx)
	assert.False(t, ok)
	assert.Equal(t, ReasonEmergencyStop, reason)
	assert.Equal(t, 1, m.trips, "latch flips once")
}

func TestRecordLossTripsBreaker(t *testing.T) {
	store := newMemDailyStore(20, 0)
	m := newCountingMetrics()
	r := newTestRisk(store, fixedPnL{before: d("-20")}, m)
	ctx := context.Background()

	total, err := r.RecordLoss(ctx, d("-30"))
	require.NoError(t, err)
	assert.Equal(t, int64(-3000), total)

	st, err := store.Get(ctx, riskDay)
	require.NoError(t, err)
	assert.True(t, st.EmergencyStop)
	assert.Equal(t, 1, m.trips)
}

func TestRecordLossTripsBreakerAtTradeCap(t *testing.T) {
	store := newMemDailyStore(20, 0)
	m := newCountingMetrics()
	r := newTestRisk(store, fixedPnL{before: d("-20")}, m)
	ctx := context.Background()

	seedDay(store, func(st *models.DailyState) { st.TradesDone = 20 })

	_, err := r.RecordLoss(ctx, d("-30"))
	require.NoError(t, err)

	st, err := store.Get(ctx, riskDay)
	require.NoError(t, err)
	assert.True(t, st.EmergencyStop)
	assert.Equal(t, 1, m.trips)

	view := r.State(ctx)
	assert.False(t, view.CanTrade)
	assert.Equal(t, ReasonEmergencyStop, view.Reason)
}

func TestGateMonotonicAfterTrip(t *testing.T) {
	store := newMemDailyStore(20, 0)
	r := newTestRisk(store, fixedPnL{}, newCountingMetrics())
	ctx := context.Background()

	changed, err := r.TripBreaker(ctx, "manual")
	require.NoError(t, err)
	assert.True(t, changed)

	for i := 0; i < 5; i++ {
		_, err := r.RecordLoss(ctx, d("100"))
		require.NoError(t, err)
		ok, reason := r.CanTrade(ctx)
		assert.False(t, ok)
		assert.Equal(t, ReasonEmergencyStop, reason)
	}

	require.NoError(t, r.ClearEmergencyStop(ctx))
	ok, _ := r.CanTrade(ctx)
	assert.True(t, ok, "only the operator reset reopens the gate")
}

func TestCanTradeReasons(t *testing.T) {
	tests := []struct {
		name   string
		limit  int64
		pnl    fixedPnL
		seed   func(st *models.DailyState)
		fail   bool
		ok     bool
		reason string
	}{
		{"fresh day", 0, fixedPnL{}, nil, false, true, ReasonAllowed},
		{"max trades", 0, fixedPnL{}, func(st *models.DailyState) { st.TradesDone = 20 }, false, false, ReasonMaxTrades},
		{"loss limit wins over trade cap", 1000, fixedPnL{}, func(st *models.DailyState) { st.TradesDone = 20; st.LossCents = -1000 }, false, false, ReasonDailyLossLimit},
		{"loss inside threshold", 0, fixedPnL{}, func(st *models.DailyState) { st.LossCents = -2400 }, false, true, ReasonAllowed},
		{"loss at threshold", 0, fixedPnL{}, func(st *models.DailyState) { st.LossCents = -2500 }, false, false, ReasonDailyLossPct},
		{"cents limit", 1000, fixedPnL{}, func(st *models.DailyState) { st.LossCents = -1000 }, false, false, ReasonDailyLossLimit},
		{"equity wiped out counts as zero pct", 0, fixedPnL{before: d("-600")}, func(st *models.DailyState) { st.LossCents = -5000 }, false, true, ReasonAllowed},
		{"store down fails closed", 0, fixedPnL{}, nil, true, false, ReasonStateUnavailable},
		{"pnl source down fails closed", 0, fixedPnL{err: errStoreDown}, nil, false, false, ReasonStateUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemDailyStore(20, tt.limit)
			if tt.seed != nil {
				seedDay(store, tt.seed)
			}
			if tt.fail {
				store.err = errStoreDown
			}
			r := newTestRisk(store, tt.pnl, newCountingMetrics())

			ok, reason := r.CanTrade(context.Background())
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestRecordTradeConcurrent(t *testing.T) {
	store := newMemDailyStore(100, 0)
	r := newTestRisk(store, fixedPnL{}, newCountingMetrics())

	done := make(chan struct{})
	for i := 0; i < 30; i++ {
		go func() {
			_, _ = r.RecordTrade(context.Background())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 30; i++ {
		<-done
	}
	st, err := store.Get(context.Background(), riskDay)
	require.NoError(t, err)
	assert.Equal(t, 30, st.TradesDone)
}

func TestDayKeyUsesReferenceTimezone(t *testing.T) {
	store := newMemDailyStore(20, 0)
	loc := time.FixedZone("UTC+7", 7*3600)
	r := NewRiskManager(store, nil, RiskConfig{StartingCapital: d("500"), MaxDailyLossPct: 5, Location: loc}, nil, nil)
	r.now = func() time.Time { return time.Date(2025, 3, 12, 20, 0, 0, 0, time.UTC) }

	_, err := r.RecordTrade(context.Background())
	require.NoError(t, err)
	_, ok := store.days["2025-03-13"]
	assert.True(t, ok)
}
