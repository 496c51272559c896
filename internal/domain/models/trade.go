package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideFlat Side = "FLAT"
)

// PlannedAction is what the planner wants done for one symbol of a fired
// event. Percentages are in percent units (3.5 means 3.5%).
type PlannedAction struct {
	EventID  string
	Symbol   string
	Side     Side
	Notional decimal.Decimal
	TPPct    float64
	SLPct    float64
	Timing   string
}

// SymbolFilters are the exchange trading rules for an instrument.
type SymbolFilters struct {
	Symbol         string
	MinNotional    decimal.Decimal
	StepSize       decimal.Decimal
	TickSize       decimal.Decimal
	QtyPrecision   int32
	PricePrecision int32
}

// OrderResult is what the exchange reports for a placed market order.
type OrderResult struct {
	OrderID        string
	Status         string
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
}

// OrderFill is the outcome of a successful execution.
type OrderFill struct {
	ClientOrderID string          `json:"client_order_id"`
	OrderID       string          `json:"order_id,omitempty"`
	EventID       string          `json:"event_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	Notional      decimal.Decimal `json:"notional"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	Adjusted      bool            `json:"adjusted"`
	Simulated     bool            `json:"simulated"`
	Status        string          `json:"status"`
	FilledAt      time.Time       `json:"filled_at"`
}

// Trade is the persisted form of a fill.
type Trade struct {
	ID         string
	EventID    string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	Notional   decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Simulated  bool
	OrderID    string
	Status     string
	OpenedAt   time.Time
}

// TradeClose records the realized result of a trade, net of fees.
type TradeClose struct {
	TradeID   string          `json:"trade_id"`
	Symbol    string          `json:"symbol"`
	ExitPrice decimal.Decimal `json:"exit_price"`
	PnL       decimal.Decimal `json:"pnl"`
	Fee       decimal.Decimal `json:"fee"`
	PnLNet    decimal.Decimal `json:"pnl_net"`
	ClosedAt  time.Time       `json:"closed_at"`
}
