package models

// DailyState is the per-day risk record, keyed by calendar day in the
// reference timezone. Money is in cents.
type DailyState struct {
	Date                string `json:"date"`
	TradesDone          int    `json:"trades_done"`
	LossCents           int64  `json:"loss_cents"`
	MaxTradesPerDay     int    `json:"max_trades_per_day"`
	DailyLossLimitCents int64  `json:"daily_loss_limit_cents"`
	EmergencyStop       bool   `json:"emergency_stop"`
}

// DailyLimits seeds a day's record when it is created.
type DailyLimits struct {
	MaxTradesPerDay     int
	DailyLossLimitCents int64
}
