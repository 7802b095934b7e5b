package rules

import "github.com/prometheus/client_golang/prometheus"

var (
	enrichedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_enriched_events_total",
			Help: "Enriched events consumed, by outcome",
		},
		[]string{"status"}, // scored, no_vitals, malformed, publish_error
	)

	alertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_alerts_raised_total",
			Help: "Alert events produced, by severity",
		},
		[]string{"severity"},
	)

	scorerFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rules_scorer_fallbacks_total",
			Help: "Events scored with the neutral fallback because the anomaly service gave no usable answer",
		},
	)
)

func init() {
	prometheus.MustRegister(enrichedEvents)
	prometheus.MustRegister(alertsRaised)
	prometheus.MustRegister(scorerFallbacks)
}
