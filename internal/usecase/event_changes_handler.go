package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"EventArb/internal/domain/models"
	pkgkafka "EventArb/pkg/kafka"
	applogger "EventArb/pkg/logger"
)

// EventChangesHandler keeps scheduler triggers in sync with upstream event
// edits published on Kafka.
type EventChangesHandler struct {
	topic     string
	scheduler *Scheduler
	log       *applogger.Logger
}

func NewEventChangesHandler(topic string, scheduler *Scheduler, log *applogger.Logger) *EventChangesHandler {
	if log == nil {
		log = applogger.Nop()
	}
	return &EventChangesHandler{
		topic:     topic,
		scheduler: scheduler,
		log:       log.With(applogger.String("component", "event_changes")),
	}
}

func (h *EventChangesHandler) Topic() string { return h.topic }

func (h *EventChangesHandler) Handle(ctx context.Context, b []byte) error {
	var ch models.EventChange
	if err := json.Unmarshal(b, &ch); err != nil {
		return fmt.Errorf("decode event change: %w", err)
	}
	id := ch.EventID
	if id == "" && ch.Event != nil {
		id = ch.Event.ID
	}
	if id == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}

	switch ch.Op {
	case models.EventDisable, models.EventDelete:
		h.scheduler.Cancel(id)
		return nil
	case models.EventUpsert:
		if ch.Event == nil {
			return fmt.Errorf("%w: upsert without event", ErrInvalidEvent)
		}
		ev := *ch.Event
		ev.ID = id
		if !ev.Enabled {
			h.scheduler.Cancel(id)
			return nil
		}
		now := h.scheduler.now()
		if ev.ScheduledAt.After(now.Add(h.scheduler.cfg.Horizon)) {
			// picked up by a later poll once inside the horizon
			h.scheduler.Cancel(id)
			return nil
		}
		err := h.scheduler.Schedule(ev)
		if errors.Is(err, ErrEventInPast) {
			h.scheduler.Cancel(id)
			return nil
		}
		return err
	default:
		h.log.Warn("unknown event change op", applogger.String("op", string(ch.Op)), applogger.String("event_id", id))
		return nil
	}
}

var _ pkgkafka.MessageHandler = (*EventChangesHandler)(nil)
