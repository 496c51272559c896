package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain/repository.Metrics using Prometheus.
type Recorder struct {
	fires        *prometheus.CounterVec
	missed       prometheus.Counter
	liveTriggers prometheus.Gauge
	executions   *prometheus.CounterVec
	nudges       prometheus.Counter
	adjusted     *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	riskDenied   *prometheus.CounterVec
	breakerTrips prometheus.Counter
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fires: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventarb_scheduler_fires_total",
			Help: "Scheduler fire attempts by outcome",
		}, []string{"result"}),
		missed: f.NewCounter(prometheus.CounterOpts{
			Name: "eventarb_scheduler_missed_total",
			Help: "Events discarded because their time had already passed",
		}),
		liveTriggers: f.NewGauge(prometheus.GaugeOpts{
			Name: "eventarb_scheduler_live_triggers",
			Help: "Currently armed triggers",
		}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventarb_execution_total",
			Help: "Execution attempts by symbol, result and failure reason",
		}, []string{"symbol", "result", "reason"}),
		nudges: f.NewCounter(prometheus.CounterOpts{
			Name: "eventarb_execution_nudge_retries_total",
			Help: "Protective price nudges",
		}),
		adjusted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventarb_execution_adjusted_total",
			Help: "Orders scaled up to the minimum notional",
		}, []string{"symbol"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventarb_alerts_emitted_total",
			Help: "Grouped alerts emitted",
		}, []string{"severity"}),
		riskDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventarb_risk_denied_total",
			Help: "Trades denied by the daily gate",
		}, []string{"reason"}),
		breakerTrips: f.NewCounter(prometheus.CounterOpts{
			Name: "eventarb_risk_breaker_trips_total",
			Help: "Emergency stop trips",
		}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventarb_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordFire(result string) { r.fires.WithLabelValues(result).Inc() }

func (r *Recorder) RecordMissed() { r.missed.Inc() }

func (r *Recorder) SetLiveTriggers(n int) { r.liveTriggers.Set(float64(n)) }

// RecordExecution counts one execution attempt. reason is empty on success.
func (r *Recorder) RecordExecution(symbol, result, reason string) {
	r.executions.WithLabelValues(symbol, result, reason).Inc()
}

func (r *Recorder) RecordNudgeRetry() { r.nudges.Inc() }

func (r *Recorder) RecordAdjusted(symbol string) { r.adjusted.WithLabelValues(symbol).Inc() }

func (r *Recorder) RecordAlert(severity string) { r.alerts.WithLabelValues(severity).Inc() }

func (r *Recorder) RecordRiskDenied(reason string) { r.riskDenied.WithLabelValues(reason).Inc() }

func (r *Recorder) RecordBreakerTrip() { r.breakerTrips.Inc() }

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
