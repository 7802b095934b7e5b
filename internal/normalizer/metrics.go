package normalizer

import "github.com/prometheus/client_golang/prometheus"

var (
	rawEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalizer_raw_events_total",
			Help: "Raw events consumed, by outcome",
		},
		[]string{"status"}, // normalized, malformed, publish_error
	)

	clampWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "normalizer_clamp_warnings_total",
			Help: "Measurements clamped into their valid range",
		},
	)
)

func init() {
	prometheus.MustRegister(rawEvents)
	prometheus.MustRegister(clampWarnings)
}
