package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	pkgch "EventArb/pkg/clickhouse"
	pkgkafka "EventArb/pkg/kafka"

	"github.com/shopspring/decimal"
)

// TradeSchema returns the DDL for the trade tables in database db.
func TradeSchema(db string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
    id          String,
    event_id    String,
    symbol      LowCardinality(String),
    side        LowCardinality(String),
    quantity    Float64,
    entry_price Float64,
    notional    Float64,
    stop_loss   Float64,
    take_profit Float64,
    simulated   Bool,
    order_id    String,
    status      LowCardinality(String),
    opened_at   DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree
ORDER BY id`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trade_closes (
    trade_id   String,
    symbol     LowCardinality(String),
    exit_price Float64,
    pnl        Float64,
    fee        Float64,
    pnl_net    Float64,
    closed_at  DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree
ORDER BY trade_id`, db),
	}
}

// ClickHouseTradeStore persists trades and closes. Decimals are stored as
// Float64 and converted at this boundary.
type ClickHouseTradeStore struct {
	db     *sql.DB
	trades string
	closes string
}

func NewClickHouseTradeStore(ch *pkgch.Client, database string) *ClickHouseTradeStore {
	return newTradeStore(ch.DB(), database)
}

func newTradeStore(db *sql.DB, database string) *ClickHouseTradeStore {
	return &ClickHouseTradeStore{
		db:     db,
		trades: database + ".trades",
		closes: database + ".trade_closes",
	}
}

func (s *ClickHouseTradeStore) SaveTrade(ctx context.Context, t *models.Trade) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, event_id, symbol, side, quantity, entry_price, notional, stop_loss, take_profit, simulated, order_id, status, opened_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.trades)
	_, err := s.db.ExecContext(ctx, q,
		t.ID,
		t.EventID,
		t.Symbol,
		string(t.Side),
		t.Quantity.InexactFloat64(),
		t.EntryPrice.InexactFloat64(),
		t.Notional.InexactFloat64(),
		t.StopLoss.InexactFloat64(),
		t.TakeProfit.InexactFloat64(),
		t.Simulated,
		t.OrderID,
		t.Status,
		t.OpenedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *ClickHouseTradeStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	q := fmt.Sprintf(`SELECT id, event_id, symbol, side, quantity, entry_price, notional, stop_loss, take_profit, simulated, order_id, status, opened_at
FROM %s FINAL WHERE id = ? LIMIT 1`, s.trades)

	var (
		t                                          models.Trade
		side                                       string
		qty, entry, notional, stopLoss, takeProfit float64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.EventID, &t.Symbol, &side,
		&qty, &entry, &notional, &stopLoss, &takeProfit,
		&t.Simulated, &t.OrderID, &t.Status, &t.OpenedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domrepo.ErrTradeNotFound
		}
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	t.Side = models.Side(side)
	t.Quantity = decimal.NewFromFloat(qty)
	t.EntryPrice = decimal.NewFromFloat(entry)
	t.Notional = decimal.NewFromFloat(notional)
	t.StopLoss = decimal.NewFromFloat(stopLoss)
	t.TakeProfit = decimal.NewFromFloat(takeProfit)
	return &t, nil
}

func (s *ClickHouseTradeStore) SaveClose(ctx context.Context, c *models.TradeClose) error {
	q := fmt.Sprintf(`INSERT INTO %s (trade_id, symbol, exit_price, pnl, fee, pnl_net, closed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, s.closes)
	_, err := s.db.ExecContext(ctx, q,
		c.TradeID,
		c.Symbol,
		c.ExitPrice.InexactFloat64(),
		c.PnL.InexactFloat64(),
		c.Fee.InexactFloat64(),
		c.PnLNet.InexactFloat64(),
		c.ClosedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save close %s: %w", c.TradeID, err)
	}
	return nil
}

func (s *ClickHouseTradeStore) GetClose(ctx context.Context, tradeID string) (*models.TradeClose, error) {
	q := fmt.Sprintf(`SELECT trade_id, symbol, exit_price, pnl, fee, pnl_net, closed_at
FROM %s FINAL WHERE trade_id = ? LIMIT 1`, s.closes)

	var (
		c                      models.TradeClose
		exit, pnl, fee, pnlNet float64
	)
	err := s.db.QueryRowContext(ctx, q, tradeID).Scan(&c.TradeID, &c.Symbol, &exit, &pnl, &fee, &pnlNet, &c.ClosedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domrepo.ErrTradeNotFound
		}
		return nil, fmt.Errorf("get close %s: %w", tradeID, err)
	}
	c.ExitPrice = decimal.NewFromFloat(exit)
	c.PnL = decimal.NewFromFloat(pnl)
	c.Fee = decimal.NewFromFloat(fee)
	c.PnLNet = decimal.NewFromFloat(pnlNet)
	return &c, nil
}

// RealizedPnLBefore sums net PnL of every close strictly before the instant.
func (s *ClickHouseTradeStore) RealizedPnLBefore(ctx context.Context, before time.Time) (decimal.Decimal, error) {
	q := fmt.Sprintf(`SELECT sum(pnl_net) FROM %s FINAL WHERE closed_at < ?`, s.closes)
	var total sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, q, before.UTC()).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("realized pnl: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromFloat(total.Float64), nil
}

// KafkaFillPublisher publishes fills keyed by symbol.
type KafkaFillPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaFillPublisher(producer *pkgkafka.Producer, topic string) *KafkaFillPublisher {
	return &KafkaFillPublisher{producer: producer, topic: topic}
}

func (p *KafkaFillPublisher) PublishFill(ctx context.Context, fill *models.OrderFill) error {
	return p.producer.Publish(ctx, p.topic, []byte(fill.Symbol), fill)
}

func (p *KafkaFillPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var (
	_ domrepo.TradeStore    = (*ClickHouseTradeStore)(nil)
	_ domrepo.PnLSource     = (*ClickHouseTradeStore)(nil)
	_ domrepo.FillPublisher = (*KafkaFillPublisher)(nil)
)
