package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	applogger "EventArb/pkg/logger"

	"github.com/shopspring/decimal"
)

type ActionPlanner interface {
	Plan(ev models.Event) []models.PlannedAction
}

type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type RiskGate interface {
	CanTrade(ctx context.Context) (bool, string)
	RecordTrade(ctx context.Context) (int, error)
}

type OrderExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*models.OrderFill, error)
}

// Orchestrator runs the per-event flow: plan, gate, price, execute, persist,
// publish, count.
type Orchestrator struct {
	planner      ActionPlanner
	prices       PriceSource
	risk         RiskGate
	executor     OrderExecutor
	trades       domrepo.TradeStore
	publisher    domrepo.FillPublisher
	alerts       AlertReporter
	log          *applogger.Logger
	priceTimeout time.Duration
}

func NewOrchestrator(
	planner ActionPlanner,
	prices PriceSource,
	risk RiskGate,
	executor OrderExecutor,
	trades domrepo.TradeStore,
	publisher domrepo.FillPublisher,
	alerts AlertReporter,
	log *applogger.Logger,
) *Orchestrator {
	if log == nil {
		log = applogger.Nop()
	}
	return &Orchestrator{
		planner:      planner,
		prices:       prices,
		risk:         risk,
		executor:     executor,
		trades:       trades,
		publisher:    publisher,
		alerts:       alerts,
		log:          log.With(applogger.String("component", "orchestrator")),
		priceTimeout: 10 * time.Second,
	}
}

// Handle executes every tradable action planned for ev. All actions are
// attempted; failures are alerted and returned joined.
func (o *Orchestrator) Handle(ctx context.Context, ev models.Event) error {
	actions := o.planner.Plan(ev)
	if len(actions) == 0 {
		o.log.Info("nothing planned", applogger.String("event_id", ev.ID), applogger.String("kind", ev.Kind))
		return nil
	}

	var errs []error
	for _, a := range actions {
		if a.Side == models.SideFlat {
			o.log.Info("flat action skipped", applogger.String("event_id", ev.ID), applogger.String("symbol", a.Symbol))
			continue
		}
		if err := o.handleAction(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", a.Symbol, a.Side, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) handleAction(ctx context.Context, a models.PlannedAction) error {
	log := o.log.With(
		applogger.String("event_id", a.EventID),
		applogger.String("symbol", a.Symbol),
		applogger.String("side", string(a.Side)),
	)

	if ok, reason := o.risk.CanTrade(ctx); !ok {
		log.Warn("trade skipped by risk gate", applogger.String("reason", reason))
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, o.priceTimeout)
	price, err := o.prices.GetPrice(pctx, a.Symbol)
	cancel()
	if err != nil {
		err = &ExecError{Reason: ReasonPriceUnavailable, Err: err}
		o.report(ctx, models.SeverityError, "execution", fmt.Sprintf("%s: %v", a.Symbol, err))
		return err
	}

	fill, err := o.executor.Execute(ctx, ExecutionRequest{
		EventID:  a.EventID,
		Symbol:   a.Symbol,
		Side:     a.Side,
		Notional: a.Notional,
		Price:    price,
		SLPct:    a.SLPct,
		TPPct:    a.TPPct,
	})
	if err != nil {
		o.report(ctx, models.SeverityError, "execution", fmt.Sprintf("%s: %v", a.Symbol, err))
		return err
	}

	var errs []error
	if err := o.trades.SaveTrade(ctx, tradeFromFill(fill)); err != nil {
		log.Error("trade not persisted", applogger.String("client_order_id", fill.ClientOrderID), applogger.Error(err))
		o.report(ctx, models.SeverityError, "storage", err.Error())
		errs = append(errs, err)
	}
	if o.publisher != nil {
		if err := o.publisher.PublishFill(ctx, fill); err != nil {
			log.Warn("fill not published", applogger.Error(err))
		}
	}
	if n, err := o.risk.RecordTrade(ctx); err != nil {
		log.Error("trade not counted", applogger.Error(err))
		o.report(ctx, models.SeverityError, "risk", err.Error())
		errs = append(errs, err)
	} else {
		log.Info("trade recorded", applogger.Int("trades_today", n))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) report(ctx context.Context, sev models.Severity, source, msg string) {
	if o.alerts != nil {
		o.alerts.Report(ctx, sev, source, msg)
	}
}

func tradeFromFill(f *models.OrderFill) *models.Trade {
	return &models.Trade{
		ID:         f.ClientOrderID,
		EventID:    f.EventID,
		Symbol:     f.Symbol,
		Side:       f.Side,
		Quantity:   f.Quantity,
		EntryPrice: f.FillPrice,
		Notional:   f.Notional,
		StopLoss:   f.StopLoss,
		TakeProfit: f.TakeProfit,
		Simulated:  f.Simulated,
		OrderID:    f.OrderID,
		Status:     f.Status,
		OpenedAt:   f.FilledAt,
	}
}
