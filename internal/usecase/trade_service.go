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

type LossRecorder interface {
	RecordLoss(ctx context.Context, amount decimal.Decimal) (int64, error)
}

// TradeService finalizes trades: realized PnL net of fees feeds the daily
// risk state.
type TradeService struct {
	store  domrepo.TradeStore
	claims domrepo.CloseClaims
	risk   LossRecorder
	feeBps decimal.Decimal
	log    *applogger.Logger
	now    func() time.Time
}

func NewTradeService(store domrepo.TradeStore, claims domrepo.CloseClaims, risk LossRecorder, feeBps float64, log *applogger.Logger) *TradeService {
	if log == nil {
		log = applogger.Nop()
	}
	return &TradeService{
		store:  store,
		claims: claims,
		risk:   risk,
		feeBps: decimal.NewFromFloat(feeBps),
		log:    log.With(applogger.String("component", "trades")),
		now:    time.Now,
	}
}

// RealizedPnL returns gross pnl, fee and net pnl of closing t at exit.
func (s *TradeService) RealizedPnL(t *models.Trade, exit decimal.Decimal) (pnl, fee, net decimal.Decimal) {
	switch t.Side {
	case models.SideSell:
		pnl = t.EntryPrice.Sub(exit).Mul(t.Quantity)
	default:
		pnl = exit.Sub(t.EntryPrice).Mul(t.Quantity)
	}
	fee = exit.Mul(t.Quantity).Abs().Mul(s.feeBps).Div(decimal.NewFromInt(10000))
	return pnl, fee, pnl.Sub(fee)
}

// Close records the exit of a trade and books its net result. The close
// claim is taken before anything is written, so concurrent closes of one
// trade book it once.
func (s *TradeService) Close(ctx context.Context, tradeID string, exit decimal.Decimal) (*models.TradeClose, error) {
	if !exit.IsPositive() {
		return nil, ErrInvalidPrice
	}
	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetClose(ctx, tradeID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, tradeID)
	} else if !errors.Is(err, domrepo.ErrTradeNotFound) {
		return nil, err
	}

	claimed, err := s.claims.ClaimClose(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, tradeID)
	}

	pnl, fee, net := s.RealizedPnL(t, exit)
	c := &models.TradeClose{
		TradeID:   t.ID,
		Symbol:    t.Symbol,
		ExitPrice: exit,
		PnL:       pnl,
		Fee:       fee,
		PnLNet:    net,
		ClosedAt:  s.now().UTC(),
	}
	if err := s.store.SaveClose(ctx, c); err != nil {
		if rerr := s.claims.ReleaseClose(ctx, tradeID); rerr != nil {
			s.log.Error("close claim not released", applogger.String("trade_id", tradeID), applogger.Error(rerr))
		}
		return nil, err
	}
	if _, err := s.risk.RecordLoss(ctx, net); err != nil {
		return c, fmt.Errorf("close saved but daily state not updated: %w", err)
	}
	s.log.Info("trade closed",
		applogger.String("trade_id", t.ID),
		applogger.String("symbol", t.Symbol),
		applogger.String("pnl_net", net.String()),
	)
	return c, nil
}
