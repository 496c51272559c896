package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	applogger "EventArb/pkg/logger"
	"EventArb/pkg/util"
)

// EventHandler is invoked once per (event, window).
type EventHandler interface {
	Handle(ctx context.Context, ev models.Event) error
}

type SchedulerConfig struct {
	PollInterval time.Duration
	Horizon      time.Duration
	FireWindow   time.Duration
	LoadTimeout  time.Duration
	FireTimeout  time.Duration
}

type trigger struct {
	ev    models.Event
	timer *time.Timer
	seq   uint64
}

// Scheduler arms one timer per upcoming event. The fire ledger, not the
// timer, decides whether an event actually fires in a window.
type Scheduler struct {
	source  domrepo.EventSource
	ledger  domrepo.FireLedger
	handler EventHandler
	alerts  AlertReporter
	metrics domrepo.Metrics
	log     *applogger.Logger
	cfg     SchedulerConfig
	now     func() time.Time

	mu       sync.Mutex
	triggers map[string]*trigger
	seq      uint64
	closed   bool
	inflight sync.WaitGroup
}

func NewScheduler(
	source domrepo.EventSource,
	ledger domrepo.FireLedger,
	handler EventHandler,
	alerts AlertReporter,
	cfg SchedulerConfig,
	metrics domrepo.Metrics,
	log *applogger.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24 * time.Hour
	}
	if cfg.FireWindow <= 0 {
		cfg.FireWindow = 300 * time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 60 * time.Second
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Scheduler{
		source:   source,
		ledger:   ledger,
		handler:  handler,
		alerts:   alerts,
		metrics:  metrics,
		log:      log.With(applogger.String("component", "scheduler")),
		cfg:      cfg,
		now:      time.Now,
		triggers: make(map[string]*trigger),
	}
}

// LoadUpcoming returns enabled events within [now, now+horizon], earliest
// first.
func (s *Scheduler) LoadUpcoming(ctx context.Context, horizon time.Duration) ([]models.Event, error) {
	events, err := s.source.ListEnabledEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load upcoming: %w", err)
	}
	now := s.now()
	end := now.Add(horizon)
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if !ev.Enabled || ev.ScheduledAt.Before(now) || ev.ScheduledAt.After(end) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// Schedule arms a one-shot trigger for ev, replacing any live trigger for
// the same id. Events already in the past are discarded with ErrEventInPast.
func (s *Scheduler) Schedule(ev models.Event) error {
	if ev.ID == "" || ev.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: id=%q", ErrInvalidEvent, ev.ID)
	}
	delay := ev.ScheduledAt.Sub(s.now())
	if delay < 0 {
		s.metrics.RecordMissed()
		s.log.Warn("event missed, discarding",
			applogger.String("event_id", ev.ID),
			applogger.Time("scheduled_at", ev.ScheduledAt),
			applogger.Duration("late_by", -delay),
		)
		return fmt.Errorf("%w: %s", ErrEventInPast, ev.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if old, ok := s.triggers[ev.ID]; ok {
		old.timer.Stop()
	}
	s.seq++
	seq := s.seq
	id := ev.ID
	t := &trigger{ev: ev, seq: seq}
	t.timer = time.AfterFunc(delay, func() { s.fire(id, seq) })
	s.triggers[id] = t
	s.metrics.SetLiveTriggers(len(s.triggers))

	s.log.Info("event scheduled",
		applogger.String("event_id", ev.ID),
		applogger.String("kind", ev.Kind),
		applogger.Time("fire_at", ev.ScheduledAt),
	)
	return nil
}

// Cancel removes the live trigger for id. A fire already in progress is not
// affected. It reports whether a trigger existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.triggers, id)
	s.metrics.SetLiveTriggers(len(s.triggers))
	s.log.Info("trigger cancelled", applogger.String("event_id", id))
	return true
}

// Triggers lists live triggers ordered by fire time.
func (s *Scheduler) Triggers() []models.ScheduledTrigger {
	s.mu.Lock()
	out := make([]models.ScheduledTrigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, models.ScheduledTrigger{EventID: t.ev.ID, Kind: t.ev.Kind, FireAt: t.ev.ScheduledAt})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func (s *Scheduler) hasTrigger(id string, at time.Time) (live, same bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return false, false
	}
	return true, t.ev.ScheduledAt.Equal(at)
}

func (s *Scheduler) fire(id string, seq uint64) {
	s.mu.Lock()
	t, ok := s.triggers[id]
	if !ok || t.seq != seq || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.triggers, id)
	s.metrics.SetLiveTriggers(len(s.triggers))
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	// detached from the poll loop so shutdown lets a claimed fire finish
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FireTimeout)
	defer cancel()
	s.OnFire(ctx, t.ev)
}

// OnFire claims (event, current window) in the ledger and, if this call won
// the claim, runs the handler. Handler errors and panics are reported, never
// returned. It reports whether the handler ran.
func (s *Scheduler) OnFire(ctx context.Context, ev models.Event) bool {
	now := s.now()
	rec := models.FireRecord{
		EventID:  ev.ID,
		WindowID: util.WindowID(now, s.cfg.FireWindow),
		FiredAt:  now.UTC(),
	}

	claimed, err := s.ledger.Claim(ctx, rec)
	if err != nil {
		s.metrics.RecordFire("ledger_error")
		s.log.Error("fire ledger claim failed, skipping fire",
			applogger.String("event_id", ev.ID),
			applogger.Int64("window_id", rec.WindowID),
			applogger.Error(err),
		)
		s.report(ctx, models.SeverityError, "ledger", fmt.Sprintf("claim %s/%d: %v", ev.ID, rec.WindowID, err))
		return false
	}
	if !claimed {
		s.metrics.RecordFire("duplicate")
		s.log.Info("event already fired in window",
			applogger.String("event_id", ev.ID),
			applogger.Int64("window_id", rec.WindowID),
		)
		return false
	}

	s.metrics.RecordFire("fired")
	s.log.Info("event fired",
		applogger.String("event_id", ev.ID),
		applogger.String("kind", ev.Kind),
		applogger.Int64("window_id", rec.WindowID),
	)
	start := time.Now()
	if err := s.invoke(ctx, ev); err != nil {
		s.log.Error("event handler failed", applogger.String("event_id", ev.ID), applogger.Error(err))
		s.report(ctx, models.SeverityError, "handler", fmt.Sprintf("%s: %v", ev.ID, err))
	}
	s.metrics.RecordLatency("handle_event", time.Since(start).Seconds())
	return true
}

func (s *Scheduler) invoke(ctx context.Context, ev models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.Handle(ctx, ev)
}

func (s *Scheduler) report(ctx context.Context, sev models.Severity, source, msg string) {
	if s.alerts != nil {
		s.alerts.Report(ctx, sev, source, msg)
	}
}

// Poll loads upcoming events once, arms triggers for events lacking one and
// drops triggers whose events are no longer listed.
func (s *Scheduler) Poll(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	events, err := s.LoadUpcoming(lctx, s.cfg.Horizon)
	cancel()
	if err != nil {
		s.log.Warn("event load failed, retrying next poll", applogger.Error(err))
		s.report(ctx, models.SeverityWarning, "scheduler", err.Error())
		return err
	}

	listed := make(map[string]struct{}, len(events))
	for _, ev := range events {
		listed[ev.ID] = struct{}{}
		live, same := s.hasTrigger(ev.ID, ev.ScheduledAt)
		if live && same {
			continue
		}
		if err := s.Schedule(ev); err != nil {
			s.log.Warn("schedule failed", applogger.String("event_id", ev.ID), applogger.Error(err))
		}
	}

	now := s.now()
	for _, t := range s.Triggers() {
		if _, ok := listed[t.EventID]; !ok && t.FireAt.After(now) {
			s.log.Info("event no longer listed", applogger.String("event_id", t.EventID))
			s.Cancel(t.EventID)
		}
	}
	return nil
}

// Run polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	_ = s.Poll(ctx)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Poll(ctx)
		}
	}
}

// Shutdown cancels every live trigger and waits for fires already in
// progress to complete, or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	n := len(s.triggers)
	for id, t := range s.triggers {
		t.timer.Stop()
		delete(s.triggers, id)
	}
	s.metrics.SetLiveTriggers(0)
	s.mu.Unlock()
	s.log.Info("scheduler stopping", applogger.Int("cancelled_triggers", n))

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}
