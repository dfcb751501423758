package chat

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/santa-chat/backend/internal/model/chat"
)

// Metrics counts chat activity. A nil *Metrics records nothing.
type Metrics struct {
	turnsTotal      *prometheus.CounterVec
	rejectionsTotal prometheus.Counter
	failuresTotal   prometheus.Counter
	activeSessions  prometheus.Gauge
}

// NewMetrics creates the chat collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "santa_chat_turns_total",
				Help: "Transcript turns appended, by role.",
			},
			[]string{"role"},
		),
		rejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "santa_chat_policy_rejections_total",
			Help: "Replies replaced by the fallback after a content-safety rejection.",
		}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "santa_chat_send_failures_total",
			Help: "Model calls that failed for reasons other than a safety rejection.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "santa_chat_active_sessions",
			Help: "Sessions currently held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.turnsTotal, m.rejectionsTotal, m.failuresTotal, m.activeSessions)
	}
	return m
}

func (m *Metrics) turn(role chat.Role) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) rejection() {
	if m == nil {
		return
	}
	m.rejectionsTotal.Inc()
}

func (m *Metrics) failure() {
	if m == nil {
		return
	}
	m.failuresTotal.Inc()
}

func (m *Metrics) setActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
