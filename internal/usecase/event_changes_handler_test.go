package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"EventArb/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changePayload(t *testing.T, ch models.EventChange) []byte {
	t.Helper()
	b, err := json.Marshal(ch)
	require.NoError(t, err)
	return b
}

func TestEventChangesHandler(t *testing.T) {
	s := newTestScheduler(nil, newMemLedger(), &countingHandler{}, nil, newCountingMetrics())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	h := NewEventChangesHandler("eventarb.event-changes", s, nil)
	ctx := context.Background()
	at := time.Now().Add(time.Hour).UTC()

	assert.Equal(t, "eventarb.event-changes", h.Topic())

	ev := models.Event{ID: "E1", Kind: "CPI", ScheduledAt: at, Symbols: []string{"BTCUSDT"}, Enabled: true}
	require.NoError(t, h.Handle(ctx, changePayload(t, models.EventChange{Op: models.EventUpsert, Event: &ev})))
	require.Len(t, s.Triggers(), 1)
	assert.Equal(t, "E1", s.Triggers()[0].EventID)

	moved := ev
	moved.ScheduledAt = at.Add(10 * time.Minute)
	require.NoError(t, h.Handle(ctx, changePayload(t, models.EventChange{Op: models.EventUpsert, EventID: "E1", Event: &moved})))
	require.Len(t, s.Triggers(), 1)
	assert.True(t, s.Triggers()[0].FireAt.Equal(moved.ScheduledAt))

	require.NoError(t, h.Handle(ctx, changePayload(t, models.EventChange{Op: models.EventDisable, EventID: "E1"})))
	assert.Empty(t, s.Triggers())
}

func TestEventChangesHandlerDropsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		ev   models.Event
	}{
		{"disabled upsert", models.Event{ID: "E1", ScheduledAt: time.Now().Add(time.Hour), Enabled: false}},
		{"beyond horizon", models.Event{ID: "E1", ScheduledAt: time.Now().Add(48 * time.Hour), Enabled: true}},
		{"in the past", models.Event{ID: "E1", ScheduledAt: time.Now().Add(-time.Hour), Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(nil, newMemLedger(), &countingHandler{}, nil, newCountingMetrics())
			t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
			require.NoError(t, s.Schedule(models.Event{ID: "E1", ScheduledAt: time.Now().Add(time.Hour)}))

			h := NewEventChangesHandler("t", s, nil)
			ev := tt.ev
			require.NoError(t, h.Handle(context.Background(), changePayload(t, models.EventChange{Op: models.EventUpsert, Event: &ev})))
			assert.Empty(t, s.Triggers())
		})
	}
}

func TestEventChangesHandlerRejectsBadPayloads(t *testing.T) {
	s := newTestScheduler(nil, newMemLedger(), &countingHandler{}, nil, newCountingMetrics())
	h := NewEventChangesHandler("t", s, nil)
	ctx := context.Background()

	assert.Error(t, h.Handle(ctx, []byte("{not json")))
	assert.ErrorIs(t, h.Handle(ctx, changePayload(t, models.EventChange{Op: models.EventDelete})), ErrInvalidEvent)
	assert.ErrorIs(t, h.Handle(ctx, changePayload(t, models.EventChange{Op: models.EventUpsert, EventID: "E"})), ErrInvalidEvent)
	assert.NoError(t, h.Handle(ctx, changePayload(t, models.EventChange{Op: "rename", EventID: "E"})))
}
