package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks coordination counters exposed on /metrics. A nil
// *Metrics is a no-op so tests can skip registration.
type Metrics struct {
	sessionsCreated prometheus.Counter
	sessionsLive    prometheus.Gauge
	roundsStarted   prometheus.Counter
	responsesTotal  *prometheus.CounterVec
}

// NewMetrics registers the session metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "attendancy_sessions_created_total",
			Help: "Sessions created since process start.",
		}),
		sessionsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attendancy_sessions_live",
			Help: "Sessions currently held in the registry.",
		}),
		roundsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "attendancy_rounds_started_total",
			Help: "Timed rounds started by hosts.",
		}),
		responsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendancy_responses_total",
			Help: "Attendee responses recorded, by verdict.",
		}, []string{"verdict"}),
	}
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsLive.Inc()
}

func (m *Metrics) sessionEvicted() {
	if m == nil {
		return
	}
	m.sessionsLive.Dec()
}

func (m *Metrics) roundStarted() {
	if m == nil {
		return
	}
	m.roundsStarted.Inc()
}

func (m *Metrics) responseRecorded(verdict string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(verdict).Inc()
}
