package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testExecConfig() ExecutionConfig {
	return ExecutionConfig{
		Simulation:      true,
		MinNotional:     d("10"),
		NotionalMargin:  d("0.001"),
		QtyPrecision:    6,
		PricePrecision:  8,
		TickSize:        d("0.01"),
		MaxNudgeRetries: 1,
	}
}

func newTestExecutor(x domrepo.Exchange, cfg ExecutionConfig, m domrepo.Metrics) *Executor {
	e := NewExecutor(x, cfg, m, nil)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("cid-%d", n)
	}
	return e
}

func TestValidateAndSize(t *testing.T) {
	e := newTestExecutor(nil, testExecConfig(), nil)
	f := e.defaultFilters("XYZUSDT")

	tests := []struct {
		name     string
		qty      string
		price    string
		want     string
		adjusted bool
	}{
		{"notional floor adjustment", "4", "2", "5.005", true},
		{"already above minimum", "10", "2", "10", false},
		{"exactly minimum", "5", "2", "5", false},
		{"rounded up to precision", "0.0001", "30000", "0.000334", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, adjusted, err := e.ValidateAndSize(d(tt.qty), d(tt.price), f)
			require.NoError(t, err)
			assert.True(t, qty.Equal(d(tt.want)), "got %s", qty)
			assert.Equal(t, tt.adjusted, adjusted)
			assert.True(t, qty.Mul(d(tt.price)).GreaterThanOrEqual(f.MinNotional))
		})
	}

	_, _, err := e.ValidateAndSize(d("1"), decimal.Zero, f)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestDeriveProtectivePrices(t *testing.T) {
	e := newTestExecutor(nil, testExecConfig(), nil)
	f := e.defaultFilters("BTCUSDT")

	sl, tp, err := e.DeriveProtectivePrices(d("50000"), d("0.018"), d("0.035"), models.SideBuy, f)
	require.NoError(t, err)
	assert.True(t, sl.Equal(d("49100")), sl.String())
	assert.True(t, tp.Equal(d("51750")), tp.String())

	sl, tp, err = e.DeriveProtectivePrices(d("50000"), d("0.018"), d("0.035"), models.SideSell, f)
	require.NoError(t, err)
	assert.True(t, sl.Equal(d("50900")), sl.String())
	assert.True(t, tp.Equal(d("48250")), tp.String())

	_, _, err = e.DeriveProtectivePrices(d("100"), d("0.01"), d("0.01"), models.SideFlat, f)
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestDeriveProtectivePricesNudge(t *testing.T) {
	f := models.SymbolFilters{PricePrecision: 2, TickSize: d("0.01")}

	tests := []struct {
		name      string
		retries   int
		entry     string
		side      models.Side
		wantErr   bool
		wantSL    string
		wantTP    string
		wantNudge int
	}{
		{"rounding collapses both, one nudge fixes", 1, "1.00", models.SideBuy, false, "0.99", "1.01", 1},
		{"sell mirrored", 1, "1.00", models.SideSell, false, "1.01", "0.99", 1},
		{"no retries allowed", 0, "1.00", models.SideBuy, true, "", "", 0},
		{"stop would be non-positive", 1, "0.01", models.SideBuy, true, "", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testExecConfig()
			cfg.MaxNudgeRetries = tt.retries
			m := newCountingMetrics()
			e := newTestExecutor(nil, cfg, m)

			sl, tp, err := e.DeriveProtectivePrices(d(tt.entry), d("0.001"), d("0.001"), tt.side, f)
			assert.Equal(t, tt.wantNudge, m.nudges)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRelation)
				return
			}
			require.NoError(t, err)
			assert.True(t, sl.Equal(d(tt.wantSL)), sl.String())
			assert.True(t, tp.Equal(d(tt.wantTP)), tp.String())
		})
	}
}

func TestDeriveProtectivePricesNeverInvalid(t *testing.T) {
	e := newTestExecutor(nil, testExecConfig(), nil)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		prec := int32(rng.Intn(9))
		f := models.SymbolFilters{PricePrecision: prec, TickSize: decimal.New(1, -prec)}
		entry := decimal.NewFromFloat(rng.Float64() * 1000).Round(prec).Add(decimal.New(1, -prec))
		slPct := decimal.NewFromFloat(rng.Float64() * 0.2).Add(d("0.00001"))
		tpPct := decimal.NewFromFloat(rng.Float64() * 0.2).Add(d("0.00001"))

		sl, tp, err := e.DeriveProtectivePrices(entry, slPct, tpPct, models.SideBuy, f)
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidRelation)
			continue
		}
		assert.True(t, sl.LessThan(entry) && entry.LessThan(tp), "entry=%s sl=%s tp=%s", entry, sl, tp)
	}
}

func TestExecuteSimulated(t *testing.T) {
	m := newCountingMetrics()
	x := &fakeExchange{}
	e := newTestExecutor(x, testExecConfig(), m)

	fill, err := e.Execute(context.Background(), ExecutionRequest{
		EventID:  "CPI",
		Symbol:   "BTCUSDT",
		Side:     models.SideBuy,
		Notional: d("25"),
		Price:    d("50000"),
		SLPct:    1.8,
		TPPct:    3.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "cid-1", fill.ClientOrderID)
	assert.True(t, fill.Simulated)
	assert.Empty(t, fill.OrderID)
	assert.False(t, fill.Adjusted)
	assert.True(t, fill.Quantity.Equal(d("0.0005")), fill.Quantity.String())
	assert.True(t, fill.FillPrice.Equal(d("50000")))
	assert.True(t, fill.Notional.Equal(d("25")))
	assert.True(t, fill.StopLoss.Equal(d("49100")))
	assert.True(t, fill.TakeProfit.Equal(d("51750")))
	assert.Zero(t, x.orders, "simulation never reaches the exchange")
	assert.Equal(t, 1, m.executions["success:"])

	rate, ok := e.Stats().For("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate.SuccessRate)
}

func TestExecuteAdjustsSmallNotional(t *testing.T) {
	e := newTestExecutor(&fakeExchange{}, testExecConfig(), nil)
	fill, err := e.Execute(context.Background(), ExecutionRequest{
		Symbol: "XYZUSDT", Side: models.SideBuy, Notional: d("8"), Price: d("2"), SLPct: 1.8, TPPct: 3.5,
	})
	require.NoError(t, err)
	assert.True(t, fill.Adjusted)
	assert.True(t, fill.Quantity.Equal(d("5.005")))
}

func TestExecuteLive(t *testing.T) {
	cfg := testExecConfig()
	cfg.Simulation = false
	x := &fakeExchange{
		price:   d("3000"),
		filters: &models.SymbolFilters{Symbol: "ETHUSDT", MinNotional: d("5"), StepSize: d("0.0001"), QtyPrecision: 4, TickSize: d("0.01"), PricePrecision: 2},
		result:  &models.OrderResult{OrderID: "777", Status: "FILLED", FilledQuantity: d("0.0083"), AvgPrice: d("3001")},
	}
	e := newTestExecutor(x, cfg, nil)

	fill, err := e.Execute(context.Background(), ExecutionRequest{
		Symbol: "ETHUSDT", Side: models.SideSell, Notional: d("25"), Price: d("3000"), SLPct: 1.8, TPPct: 3.5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, x.orders)
	assert.False(t, fill.Simulated)
	assert.Equal(t, "777", fill.OrderID)
	assert.True(t, fill.FillPrice.Equal(d("3001")))
	assert.True(t, fill.Notional.Equal(d("24.9083")), fill.Notional.String())
	// protective prices are derived from the requested price
	assert.True(t, fill.StopLoss.Equal(d("3054")), fill.StopLoss.String())
	assert.True(t, fill.TakeProfit.Equal(d("2895")), fill.TakeProfit.String())
}

func TestExecuteFailures(t *testing.T) {
	tests := []struct {
		name   string
		req    ExecutionRequest
		xerr   error
		reason string
	}{
		{"zero price", ExecutionRequest{Symbol: "A", Side: models.SideBuy, Notional: d("25"), Price: decimal.Zero}, nil, ReasonInvalidPrice},
		{"flat side", ExecutionRequest{Symbol: "A", Side: models.SideFlat, Notional: d("25"), Price: d("1")}, nil, ReasonInvalidSide},
		{"rejected", ExecutionRequest{Symbol: "A", Side: models.SideBuy, Notional: d("25"), Price: d("1"), SLPct: 1, TPPct: 1}, fmt.Errorf("place order: %w", domrepo.ErrRejected), ReasonExchangeRejected},
		{"timeout", ExecutionRequest{Symbol: "A", Side: models.SideBuy, Notional: d("25"), Price: d("1"), SLPct: 1, TPPct: 1}, context.DeadlineExceeded, ReasonExchangeTimeout},
		{"other", ExecutionRequest{Symbol: "A", Side: models.SideBuy, Notional: d("25"), Price: d("1"), SLPct: 1, TPPct: 1}, fmt.Errorf("connection reset"), ReasonExchangeError},
		{"invalid relation", ExecutionRequest{Symbol: "A", Side: models.SideBuy, Notional: d("25"), Price: d("0.01"), SLPct: 0.1, TPPct: 0.1}, nil, ReasonInvalidRelation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testExecConfig()
			cfg.Simulation = false
			cfg.PricePrecision = 2
			m := newCountingMetrics()
			e := newTestExecutor(&fakeExchange{orderErr: tt.xerr}, cfg, m)

			fill, err := e.Execute(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, fill)
			assert.Equal(t, tt.reason, FailureReason(err))
			assert.Equal(t, 1, m.executions["failure:"+tt.reason])

			st, ok := e.Stats().For("A")
			require.True(t, ok)
			assert.Equal(t, 1, st.Failures)
			assert.Zero(t, st.SuccessRate)
		})
	}
}

func TestExecutionStats(t *testing.T) {
	s := NewExecutionStats()
	s.Record("B", true)
	s.Record("B", false)
	s.Record("A", true)
	s.Record("B", true)

	b, ok := s.For("B")
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, b.SuccessRate, 1e-9)

	_, ok = s.For("C")
	assert.False(t, ok)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Symbol)
}
