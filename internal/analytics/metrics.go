package analytics

import "github.com/prometheus/client_golang/prometheus"

var (
	scoredEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_scored_events_total",
			Help: "Scored events consumed, by outcome",
		},
		[]string{"status"},
	)

	alertEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_alert_events_total",
			Help: "Alert events consumed, by outcome",
		},
		[]string{"status"},
	)

	feedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_feed_clients",
			Help: "Connected alert feed WebSocket clients",
		},
	)

	feedDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_feed_dropped_messages_total",
			Help: "Feed messages dropped because a client was too slow",
		},
	)
)

func init() {
	prometheus.MustRegister(scoredEvents)
	prometheus.MustRegister(alertEvents)
	prometheus.MustRegister(feedClients)
	prometheus.MustRegister(feedDrops)
}
