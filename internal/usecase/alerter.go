package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	"EventArb/internal/service/ratelimit"
	applogger "EventArb/pkg/logger"
)

// AlertReporter accepts raw failure signals.
type AlertReporter interface {
	Report(ctx context.Context, sev models.Severity, source, message string) bool
}

// Alerter rate limits failure signals per (severity, source) and sends the
// grouped result to every notifier.
type Alerter struct {
	limiter     *ratelimit.Limiter
	notifiers   []domrepo.Notifier
	metrics     domrepo.Metrics
	log         *applogger.Logger
	sendTimeout time.Duration
	now         func() time.Time
}

func NewAlerter(limiter *ratelimit.Limiter, notifiers []domrepo.Notifier, metrics domrepo.Metrics, log *applogger.Logger, sendTimeout time.Duration) *Alerter {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if log == nil {
		log = applogger.Nop()
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Alerter{
		limiter:     limiter,
		notifiers:   notifiers,
		metrics:     metrics,
		log:         log.With(applogger.String("component", "alerts")),
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// Report observes one signal and, when the limiter lets it through, sends a
// grouped alert. It returns whether an alert was emitted.
func (a *Alerter) Report(ctx context.Context, sev models.Severity, source, message string) bool {
	now := a.now()
	emit, count := a.limiter.Observe(sev, source, now)
	if !emit {
		return false
	}
	alert := models.Alert{Severity: sev, Source: source, Message: message, Count: count, At: now}
	text := FormatAlert(alert)
	a.metrics.RecordAlert(string(sev))
	a.log.Warn("alert emitted",
		applogger.String("severity", string(sev)),
		applogger.String("source", source),
		applogger.Int("count", count),
	)

	for _, n := range a.notifiers {
		sctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
		ok := n.Send(sctx, text)
		cancel()
		if !ok {
			a.log.Warn("alert delivery failed", applogger.String("notifier", n.Name()))
		}
	}
	return true
}

// FormatAlert renders a grouped alert for operators.
func FormatAlert(a models.Alert) string {
	tag := strings.ToUpper(string(a.Severity))
	if a.Severity == models.SeverityFatal || a.Count <= 1 {
		return fmt.Sprintf("[%s] %s: %s", tag, a.Source, a.Message)
	}
	return fmt.Sprintf("[%s] %s: %d events in window: %s", tag, a.Source, a.Count, a.Message)
}

// RunSweep drops idle limiter keys every interval until ctx is done.
func (a *Alerter) RunSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Sweep(a.now()); n > 0 {
				a.log.Debug("alert counters swept", applogger.Int("removed", n))
			}
		}
	}
}
