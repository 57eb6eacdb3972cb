package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exposes counters/histograms for conversation turns.
type EngineMetrics struct {
	inboundTotal  *prometheus.CounterVec
	outboundTotal *prometheus.CounterVec
	salesTotal    *prometheus.CounterVec
	aiLatency     *prometheus.HistogramVec
	aiFailures    *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellzap",
			Subsystem: "engine",
			Name:      "inbound_total",
			Help:      "Total inbound messages accepted by the engine",
		}, []string{"transport", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellzap",
			Subsystem: "engine",
			Name:      "outbound_total",
			Help:      "Total outbound reply segments dispatched",
		}, []string{"transport", "status"}),
		salesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellzap",
			Subsystem: "engine",
			Name:      "sales_total",
			Help:      "Total conversations marked sold",
		}, []string{"transport"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sellzap",
			Subsystem: "engine",
			Name:      "ai_latency_seconds",
			Help:      "Latency of AI provider completions",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider"}),
		aiFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellzap",
			Subsystem: "engine",
			Name:      "ai_failures_total",
			Help:      "Total AI provider completion failures",
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.salesTotal, m.aiLatency, m.aiFailures)
	return m
}

func (m *EngineMetrics) ObserveInbound(transport, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(transport, status).Inc()
}

func (m *EngineMetrics) ObserveOutbound(transport, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(transport, status).Inc()
}

func (m *EngineMetrics) ObserveSale(transport string) {
	if m == nil {
		return
	}
	m.salesTotal.WithLabelValues(transport).Inc()
}

func (m *EngineMetrics) ObserveAILatency(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.aiLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *EngineMetrics) ObserveAIFailure(provider string) {
	if m == nil {
		return
	}
	m.aiFailures.WithLabelValues(provider).Inc()
}

// FollowUpMetrics exposes counters for scheduler runs.
type FollowUpMetrics struct {
	runsTotal *prometheus.CounterVec
	sentTotal *prometheus.CounterVec
}

func NewFollowUpMetrics(reg prometheus.Registerer) *FollowUpMetrics {
	m := &FollowUpMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellzap",
			Subsystem: "followup",
			Name:      "runs_total",
			Help:      "Total scheduler runs",
		}, []string{"status"}),
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellzap",
			Subsystem: "followup",
			Name:      "sent_total",
			Help:      "Total follow-up messages claimed and sent",
		}, []string{"stage", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.sentTotal)
	return m
}

func (m *FollowUpMetrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *FollowUpMetrics) ObserveSent(stage, status string) {
	if m == nil {
		return
	}
	m.sentTotal.WithLabelValues(stage, status).Inc()
}

// SessionMetrics tracks persistent-session lifecycle events.
type SessionMetrics struct {
	transitions *prometheus.CounterVec
	connected   prometheus.Gauge
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sellzap",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total session state transitions",
		}, []string{"state"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sellzap",
			Subsystem: "session",
			Name:      "connected",
			Help:      "Number of currently connected persistent sessions",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.connected)
	return m
}

func (m *SessionMetrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *SessionMetrics) SetConnected(n int) {
	if m == nil {
		return
	}
	m.connected.Set(float64(n))
}
