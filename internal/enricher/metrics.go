package enricher

import "github.com/prometheus/client_golang/prometheus"

var (
	normalizedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_normalized_events_total",
			Help: "Normalized events consumed, by outcome",
		},
		[]string{"status"},
	)

	registryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_registry_lookups_total",
			Help: "Registry lookups, by kind and result",
		},
		[]string{"kind", "result"},
	)

	patientResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_patient_resolved_total",
			Help: "Synthetic patient ids replaced by registry bindings",
		},
	)
)

func init() {
	prometheus.MustRegister(normalizedEvents)
	prometheus.MustRegister(registryLookups)
	prometheus.MustRegister(patientResolved)
}
