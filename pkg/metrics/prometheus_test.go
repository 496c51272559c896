package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordFire("fired")
	r.RecordFire("duplicate")
	r.RecordFire("duplicate")
	r.RecordExecution("BTCUSDT", "failure", "invalid_relation")
	r.RecordNudgeRetry()
	r.SetLiveTriggers(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.fires.WithLabelValues("fired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.fires.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("BTCUSDT", "failure", "invalid_relation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.nudges))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.liveTriggers))
}
