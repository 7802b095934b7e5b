package analytics

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/shared/events"
)

// Service adapts the aggregator to the Kafka consumer loops. Malformed
// messages are logged and skipped; Redis failures surface as handler
// errors so they land in the consumer log.
type Service struct {
	aggregator *Aggregator
	feed       *Feed
	log        *logrus.Entry
}

// NewService wires the aggregator and the live alert feed.
func NewService(aggregator *Aggregator, feed *Feed, log *logrus.Entry) *Service {
	return &Service{aggregator: aggregator, feed: feed, log: log}
}

// HandleScored consumes one scored event into the aggregates.
func (s *Service) HandleScored(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, err := events.Decode[events.ScoredEvent](msg.Value)
	if err != nil {
		scoredEvents.WithLabelValues("malformed").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to decode scored event, skipping")
		return nil
	}

	if err := s.aggregator.HandleScored(ctx, event); err != nil {
		scoredEvents.WithLabelValues("error").Inc()
		return err
	}
	scoredEvents.WithLabelValues("aggregated").Inc()
	return nil
}

// HandleAlert consumes one alert, updating counters and the live feed.
func (s *Service) HandleAlert(ctx context.Context, msg *sarama.ConsumerMessage) error {
	alert, err := events.Decode[events.AlertEvent](msg.Value)
	if err != nil {
		alertEvents.WithLabelValues("malformed").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to decode alert event, skipping")
		return nil
	}

	if s.feed != nil {
		s.feed.Broadcast(alert)
	}

	if err := s.aggregator.HandleAlert(ctx, alert); err != nil {
		alertEvents.WithLabelValues("error").Inc()
		return err
	}
	alertEvents.WithLabelValues("aggregated").Inc()

	s.log.WithFields(logrus.Fields{
		"event_id":   alert.EventID,
		"patient_id": alert.PatientID,
		"severity":   alert.Severity,
	}).Info("Aggregated alert")
	return nil
}
