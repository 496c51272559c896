package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"EventArb/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	orch      *Orchestrator
	exchange  *fakeExchange
	daily     *memDailyStore
	trades    *memTradeStore
	publisher *memPublisher
	alerts    *recordingAlerts
}

func newOrchestratorFixture() *orchestratorFixture {
	f := &orchestratorFixture{
		exchange:  &fakeExchange{price: d("50000")},
		daily:     newMemDailyStore(20, 0),
		trades:    newMemTradeStore(),
		publisher: &memPublisher{},
		alerts:    &recordingAlerts{},
	}
	m := newCountingMetrics()
	f.orch = NewOrchestrator(
		NewPlanner(d("25")),
		f.exchange,
		newTestRisk(f.daily, fixedPnL{}, m),
		newTestExecutor(f.exchange, testExecConfig(), m),
		f.trades,
		f.publisher,
		f.alerts,
		nil,
	)
	return f
}

func cpiEvent() models.Event {
	return models.Event{ID: "CPI_2025_03", Kind: "CPI", ScheduledAt: riskNow, Symbols: []string{"BTCUSDT"}, Enabled: true}
}

func TestOrchestratorHappyPath(t *testing.T) {
	f := newOrchestratorFixture()
	ctx := context.Background()

	require.NoError(t, f.orch.Handle(ctx, cpiEvent()))

	tr, err := f.trades.GetTrade(ctx, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, "CPI_2025_03", tr.EventID)
	assert.Equal(t, models.SideBuy, tr.Side)
	assert.True(t, tr.Simulated)
	assert.True(t, tr.EntryPrice.Equal(d("50000")))
	assert.True(t, tr.StopLoss.LessThan(tr.EntryPrice))
	assert.True(t, tr.TakeProfit.GreaterThan(tr.EntryPrice))

	require.Len(t, f.publisher.fills, 1)
	assert.Equal(t, "BTCUSDT", f.publisher.fills[0].Symbol)

	st, err := f.daily.Get(ctx, riskDay)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TradesDone)
	assert.Empty(t, f.alerts.sources())
	assert.Zero(t, f.exchange.orders, "simulation never places orders")
}

func TestOrchestratorRiskGateDenies(t *testing.T) {
	f := newOrchestratorFixture()
	seedDay(f.daily, func(st *models.DailyState) { st.EmergencyStop = true })

	require.NoError(t, f.orch.Handle(context.Background(), cpiEvent()))
	assert.Empty(t, f.trades.trades)
	assert.Empty(t, f.publisher.fills)
}

func TestOrchestratorPriceUnavailable(t *testing.T) {
	f := newOrchestratorFixture()
	f.exchange.priceErr = errors.New("no route")

	err := f.orch.Handle(context.Background(), cpiEvent())
	require.Error(t, err)
	assert.Equal(t, ReasonPriceUnavailable, FailureReason(err))
	assert.Equal(t, []string{"execution"}, f.alerts.sources())
	assert.Empty(t, f.trades.trades)
}

type stalledPrices struct{}

func (stalledPrices) GetPrice(ctx context.Context, _ string) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Zero, ctx.Err()
}

func TestOrchestratorPriceTimeout(t *testing.T) {
	f := newOrchestratorFixture()
	f.orch.prices = stalledPrices{}
	f.orch.priceTimeout = 20 * time.Millisecond

	start := time.Now()
	err := f.orch.Handle(context.Background(), cpiEvent())
	require.Error(t, err)
	assert.Equal(t, ReasonPriceUnavailable, FailureReason(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, f.trades.trades)
}

func TestOrchestratorStorageFailureStillCounts(t *testing.T) {
	f := newOrchestratorFixture()
	f.trades.err = errStoreDown

	err := f.orch.Handle(context.Background(), cpiEvent())
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, []string{"storage"}, f.alerts.sources())

	st, err := f.daily.Get(context.Background(), riskDay)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TradesDone)
}

func TestOrchestratorFlatAndEmptyPlans(t *testing.T) {
	f := newOrchestratorFixture()
	ctx := context.Background()

	require.NoError(t, f.orch.Handle(ctx, models.Event{ID: "U1", Kind: "TOKEN_UNLOCK", Symbols: []string{"ARBUSDT"}}))
	require.NoError(t, f.orch.Handle(ctx, models.Event{ID: "C1", Kind: "CPI"}))
	assert.Empty(t, f.trades.trades)
	assert.Empty(t, f.publisher.fills)
}
