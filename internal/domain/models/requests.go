package models

// Requests for the ops HTTP endpoints.

type StatsRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
}

type CloseTradeRequest struct {
	ID        string `param:"id" json:"-" validate:"required"`
	ExitPrice string `json:"exit_price" validate:"required,numeric"`
}

type EmergencyStopRequest struct {
	Reason string `json:"reason" default:"manual" validate:"max=200"`
}
