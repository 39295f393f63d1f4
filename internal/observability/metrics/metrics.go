package metrics

import "github.com/prometheus/client_golang/prometheus"

// MonitorMetrics exposes counters/gauges for connection monitoring and
// appointment series flows.
type MonitorMetrics struct {
	reconcileTotal   *prometheus.CounterVec
	reconcileLatency *prometheus.HistogramVec
	alertsTotal      *prometheus.CounterVec
	activeMonitors   prometheus.Gauge
	occurrencesTotal *prometheus.CounterVec
}

func NewMonitorMetrics(reg prometheus.Registerer) *MonitorMetrics {
	m := &MonitorMetrics{
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "monitor",
			Name:      "reconcile_total",
			Help:      "Total connection reconciliations by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		reconcileLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "practice",
			Subsystem: "monitor",
			Name:      "reconcile_latency_seconds",
			Help:      "Latency of a single poll reconciliation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "monitor",
			Name:      "disconnect_alerts_total",
			Help:      "Disconnect alerts surfaced or suppressed by the cooldown",
		}, []string{"result"}),
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "practice",
			Subsystem: "monitor",
			Name:      "active_monitors",
			Help:      "Accounts currently being polled",
		}),
		occurrencesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "series",
			Name:      "occurrences_total",
			Help:      "Series occurrences by stage and result",
		}, []string{"stage", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reconcileTotal, m.reconcileLatency, m.alertsTotal, m.activeMonitors, m.occurrencesTotal)
	return m
}

func (m *MonitorMetrics) ObserveReconcile(trigger, outcome string) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *MonitorMetrics) ObserveReconcileLatency(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.reconcileLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *MonitorMetrics) ObserveAlert(surfaced bool) {
	if m == nil {
		return
	}
	label := "suppressed"
	if surfaced {
		label = "surfaced"
	}
	m.alertsTotal.WithLabelValues(label).Inc()
}

// SetActiveMonitors records the size of the monitor registry.
func (m *MonitorMetrics) SetActiveMonitors(n int) {
	if m == nil {
		return
	}
	m.activeMonitors.Set(float64(n))
}

func (m *MonitorMetrics) ObserveOccurrence(stage string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.occurrencesTotal.WithLabelValues(stage, result).Inc()
}
