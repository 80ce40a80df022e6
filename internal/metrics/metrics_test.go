package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ExecutionRecorded("auto", true)
	m.ExecutionRecorded("auto", true)
	m.ExecutionRecorded("manual", false)
	m.SetBreakerOpen(true)
	m.SetQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.executions.WithLabelValues("auto", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("manual", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerOpen))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ExecutionRecorded("auto", true)
		m.RollbackRecorded(false)
		m.SweepSkipped("circuit_open")
		m.SetBreakerOpen(true)
		m.NotificationSent("slack", true)
		m.SetQueueDepth(1)
	})
}
