// Package metrics holds the Prometheus collectors exported by the executor.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	executions    *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
	sweepsSkipped *prometheus.CounterVec
	breakerOpen   prometheus.Gauge
	notifications *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Name:      "executions_total",
			Help:      "Action execution attempts by trigger and result.",
		}, []string{"trigger", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Name:      "rollbacks_total",
			Help:      "Rollback attempts by result.",
		}, []string{"result"}),
		sweepsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "executor",
			Name:      "sweep_skipped_total",
			Help:      "Auto-execution sweeps aborted before running, by reason.",
		}, []string{"reason"}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "executor",
			Name:      "circuit_breaker_open",
			Help:      "1 while the auto-execution circuit breaker is open.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notifications",
			Name:      "sent_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "notification",
			Name:      "queue_depth",
			Help:      "Notifications waiting in batch queues.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.executions, m.rollbacks, m.sweepsSkipped, m.breakerOpen, m.notifications, m.queueDepth)
	}
	return m
}

func (m *Metrics) ExecutionRecorded(trigger string, success bool) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(trigger, resultLabel(success)).Inc()
}

func (m *Metrics) RollbackRecorded(success bool) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(resultLabel(success)).Inc()
}

func (m *Metrics) SweepSkipped(reason string) {
	if m == nil {
		return
	}
	m.sweepsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}

func (m *Metrics) NotificationSent(channel string, success bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, resultLabel(success)).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
