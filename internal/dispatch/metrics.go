package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parleyhq/parley/pkg/decision"
)

// Metrics counts negotiation decisions by action. A nil *Metrics is a
// no-op, so counting is strictly opt-in.
type Metrics struct {
	decisions *prometheus.CounterVec
	errors    prometheus.Counter
}

// NewMetrics registers the dispatcher's counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "decisions_total",
			Help:      "Negotiation decisions by action tag.",
		}, []string{"action"}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "decision_errors_total",
			Help:      "Failed negotiation decisions (collaborator or programming errors).",
		}),
	}
}

func (m *Metrics) recordDecision(action decision.Action) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) recordError() {
	if m == nil {
		return
	}
	m.errors.Inc()
}
