package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics counts committed events. Advisory events (recalls, expiries,
// AML reviews, formulary locks) are also counted on their own so alerts do
// not need to know every event type.
type EventMetrics struct {
	committed  *prometheus.CounterVec
	advisories *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventMetrics     *EventMetrics
)

func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventMetrics = &EventMetrics{
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Committed events by emitting component and event type.",
			}, []string{"component", "type"}),
			advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Subsystem: "events",
				Name:      "advisories_total",
				Help:      "Committed advisory events that need human review.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventMetrics.committed, eventMetrics.advisories)
	})
	return eventMetrics
}

// RecordEvent counts one committed event of eventType ("component.name").
func (m *EventMetrics) RecordEvent(eventType string, advisory bool) {
	if m == nil {
		return
	}
	eventType = labelOrUnknown(strings.TrimSpace(eventType))
	component, _, found := strings.Cut(eventType, ".")
	if !found {
		component = "unknown"
	}
	m.committed.WithLabelValues(component, eventType).Inc()
	if advisory {
		m.advisories.WithLabelValues(eventType).Inc()
	}
}
