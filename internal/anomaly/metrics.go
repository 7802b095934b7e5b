package anomaly

import "github.com/prometheus/client_golang/prometheus"

var (
	scoreRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_score_requests_total",
			Help: "Scoring requests handled, by outcome",
		},
		[]string{"status"}, // success, invalid_request, internal_error
	)

	scoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anomaly_score_duration_seconds",
			Help:    "Time spent scoring one request",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

func init() {
	prometheus.MustRegister(scoreRequests)
	prometheus.MustRegister(scoreDuration)
}
