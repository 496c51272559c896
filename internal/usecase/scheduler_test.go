package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"EventArb/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(src *staticSource, ledger *memLedger, h EventHandler, alerts AlertReporter, m *countingMetrics) *Scheduler {
	if src == nil {
		src = &staticSource{}
	}
	return NewScheduler(src, ledger, h, alerts, SchedulerConfig{
		PollInterval: time.Hour,
		Horizon:      24 * time.Hour,
		FireWindow:   300 * time.Second,
	}, m, nil)
}

func TestOnFireIdempotentPerWindow(t *testing.T) {
	ledger := newMemLedger()
	h := &countingHandler{}
	s := newTestScheduler(nil, ledger, h, nil, newCountingMetrics())
	now := time.Date(2025, 3, 12, 12, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ev := models.Event{ID: "CPI_2025_03", Kind: "CPI", ScheduledAt: now}

	assert.True(t, s.OnFire(context.Background(), ev))
	now = now.Add(90 * time.Second)
	assert.False(t, s.OnFire(context.Background(), ev), "same window")
	assert.Equal(t, 1, h.count())
	assert.Equal(t, 1, ledger.inserts)

	now = now.Add(300 * time.Second)
	assert.True(t, s.OnFire(context.Background(), ev), "next window")
	assert.Equal(t, 2, h.count())
}

func TestOnFireConcurrentSameWindow(t *testing.T) {
	ledger := newMemLedger()
	h := &countingHandler{}
	s := newTestScheduler(nil, ledger, h, nil, newCountingMetrics())
	now := time.Date(2025, 3, 12, 12, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ev := models.Event{ID: "FOMC", ScheduledAt: now}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.OnFire(context.Background(), ev)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.count())
}

func TestRestartDoesNotRefire(t *testing.T) {
	ledger := newMemLedger()
	h := &countingHandler{}
	now := time.Date(2025, 3, 12, 12, 30, 0, 0, time.UTC)
	ev := models.Event{ID: "E1", Kind: "CPI", ScheduledAt: now, Enabled: true}

	before := newTestScheduler(nil, ledger, h, nil, newCountingMetrics())
	before.now = func() time.Time { return now }
	require.True(t, before.OnFire(context.Background(), ev))

	// a fresh process sharing the ledger fires E1 again inside window W
	m := newCountingMetrics()
	after := newTestScheduler(nil, ledger, h, nil, m)
	after.now = func() time.Time { return now.Add(2 * time.Second) }
	assert.False(t, after.OnFire(context.Background(), ev))
	assert.Equal(t, 1, h.count())
	assert.Equal(t, 1, m.fires["duplicate"])
}

func TestOnFireHandlerFailuresAreReported(t *testing.T) {
	tests := []struct {
		name    string
		handler EventHandler
	}{
		{"error", &countingHandler{err: errors.New("exchange down")}},
		{"panic", handlerFunc(func(context.Context, models.Event) error { panic("boom") })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := &recordingAlerts{}
			s := newTestScheduler(nil, newMemLedger(), tt.handler, alerts, newCountingMetrics())

			var fired bool
			assert.NotPanics(t, func() {
				fired = s.OnFire(context.Background(), models.Event{ID: "E", ScheduledAt: time.Now()})
			})
			assert.True(t, fired)
			assert.Equal(t, []string{"handler"}, alerts.sources())
		})
	}
}

func TestOnFireLedgerErrorSkipsHandler(t *testing.T) {
	ledger := newMemLedger()
	ledger.err = errStoreDown
	h := &countingHandler{}
	alerts := &recordingAlerts{}
	m := newCountingMetrics()
	s := newTestScheduler(nil, ledger, h, alerts, m)

	assert.False(t, s.OnFire(context.Background(), models.Event{ID: "E", ScheduledAt: time.Now()}))
	assert.Zero(t, h.count())
	assert.Equal(t, []string{"ledger"}, alerts.sources())
	assert.Equal(t, 1, m.fires["ledger_error"])
}

func TestScheduleRejectsPastAndInvalid(t *testing.T) {
	m := newCountingMetrics()
	s := newTestScheduler(nil, newMemLedger(), &countingHandler{}, nil, m)

	err := s.Schedule(models.Event{ID: "old", ScheduledAt: time.Now().Add(-time.Minute)})
	assert.ErrorIs(t, err, ErrEventInPast)
	assert.Equal(t, 1, m.missed)

	err = s.Schedule(models.Event{ScheduledAt: time.Now().Add(time.Minute)})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, s.Triggers())
}

func TestScheduleFiresTimer(t *testing.T) {
	h := &countingHandler{}
	s := newTestScheduler(nil, newMemLedger(), h, nil, newCountingMetrics())

	require.NoError(t, s.Schedule(models.Event{ID: "soon", ScheduledAt: time.Now().Add(20 * time.Millisecond)}))
	require.Len(t, s.Triggers(), 1)

	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Triggers(), "trigger is destroyed on fire")
}

func TestScheduleReplacesAndCancel(t *testing.T) {
	h := &countingHandler{}
	s := newTestScheduler(nil, newMemLedger(), h, nil, newCountingMetrics())
	at := time.Now().Add(time.Hour)

	require.NoError(t, s.Schedule(models.Event{ID: "E", ScheduledAt: at}))
	require.NoError(t, s.Schedule(models.Event{ID: "E", ScheduledAt: at.Add(time.Minute)}))

	trs := s.Triggers()
	require.Len(t, trs, 1)
	assert.True(t, trs[0].FireAt.Equal(at.Add(time.Minute)))

	assert.True(t, s.Cancel("E"))
	assert.False(t, s.Cancel("E"))
	assert.Empty(t, s.Triggers())
}

func TestCancelledTriggerNeverFires(t *testing.T) {
	h := &countingHandler{}
	s := newTestScheduler(nil, newMemLedger(), h, nil, newCountingMetrics())

	require.NoError(t, s.Schedule(models.Event{ID: "E", ScheduledAt: time.Now().Add(30 * time.Millisecond)}))
	require.True(t, s.Cancel("E"))
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, h.count())
}

func TestLoadUpcomingAndPoll(t *testing.T) {
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)
	src := &staticSource{}
	src.set(
		models.Event{ID: "later", ScheduledAt: now.Add(5 * time.Hour), Enabled: true},
		models.Event{ID: "soon", ScheduledAt: now.Add(time.Hour), Enabled: true},
		models.Event{ID: "beyond", ScheduledAt: now.Add(48 * time.Hour), Enabled: true},
		models.Event{ID: "past", ScheduledAt: now.Add(-time.Hour), Enabled: true},
		models.Event{ID: "off", ScheduledAt: now.Add(time.Hour), Enabled: false},
	)
	s := newTestScheduler(src, newMemLedger(), &countingHandler{}, nil, newCountingMetrics())
	s.now = func() time.Time { return now }
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	events, err := s.LoadUpcoming(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "soon", events[0].ID)
	assert.Equal(t, "later", events[1].ID)

	require.NoError(t, s.Poll(context.Background()))
	trs := s.Triggers()
	require.Len(t, trs, 2)
	assert.Equal(t, "soon", trs[0].EventID)

	// a second poll leaves live triggers alone and drops vanished events
	src.set(models.Event{ID: "soon", ScheduledAt: now.Add(time.Hour), Enabled: true})
	require.NoError(t, s.Poll(context.Background()))
	trs = s.Triggers()
	require.Len(t, trs, 1)
	assert.Equal(t, "soon", trs[0].EventID)
}

func TestPollLoadFailureIsTransient(t *testing.T) {
	src := &staticSource{err: errStoreDown}
	alerts := &recordingAlerts{}
	s := newTestScheduler(src, newMemLedger(), &countingHandler{}, alerts, newCountingMetrics())

	err := s.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"scheduler"}, alerts.sources())
}

func TestShutdownWaitsForInflightFire(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	var mu sync.Mutex
	h := handlerFunc(func(context.Context, models.Event) error {
		close(started)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	})
	s := newTestScheduler(nil, newMemLedger(), h, nil, newCountingMetrics())

	require.NoError(t, s.Schedule(models.Event{ID: "now", ScheduledAt: time.Now().Add(5 * time.Millisecond)}))
	require.NoError(t, s.Schedule(models.Event{ID: "later", ScheduledAt: time.Now().Add(time.Hour)}))
	<-started

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("shutdown returned while a fire was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, s.Triggers())

	close(release)
	require.NoError(t, <-done)
	mu.Lock()
	assert.True(t, finished)
	mu.Unlock()

	assert.ErrorIs(t, s.Schedule(models.Event{ID: "x", ScheduledAt: time.Now().Add(time.Hour)}), ErrSchedulerClosed)
}

func TestShutdownHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	h := handlerFunc(func(context.Context, models.Event) error {
		close(started)
		<-release
		return nil
	})
	s := newTestScheduler(nil, newMemLedger(), h, nil, newCountingMetrics())
	require.NoError(t, s.Schedule(models.Event{ID: "E", ScheduledAt: time.Now().Add(5 * time.Millisecond)}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
}
