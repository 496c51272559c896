package models

import "time"

// Event is a time-stamped market event (macro release, token unlock, ...).
// The core only reads events; ingestion owns their lifecycle.
type Event struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Symbols     []string  `json:"symbols"`
	Consensus   *float64  `json:"consensus,omitempty"`
	Enabled     bool      `json:"enabled"`
}

// ScheduledTrigger describes a live armed timer for an event.
type ScheduledTrigger struct {
	EventID string    `json:"event_id"`
	Kind    string    `json:"kind"`
	FireAt  time.Time `json:"fire_at"`
}

// FireRecord is one entry of the idempotency ledger. (EventID, WindowID) is
// unique.
type FireRecord struct {
	EventID  string    `json:"event_id"`
	WindowID int64     `json:"window_id"`
	FiredAt  time.Time `json:"fired_at"`
}

// EventChangeOp is the kind of upstream change to an event.
type EventChangeOp string

const (
	EventUpsert  EventChangeOp = "upsert"
	EventDisable EventChangeOp = "disable"
	EventDelete  EventChangeOp = "delete"
)

// EventChange is published by ingestion when an event is created, updated,
// disabled or deleted.
type EventChange struct {
	Op      EventChangeOp `json:"op"`
	EventID string        `json:"event_id"`
	Event   *Event        `json:"event,omitempty"`
}
