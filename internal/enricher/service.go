package enricher

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/pkg/messaging"
	"github.com/terminal-bench/vitalflow/shared/events"
)

// Service wires the enricher between Kafka topics.
type Service struct {
	enricher *Enricher
	producer messaging.Publisher
	topic    string
	log      *logrus.Entry
}

// NewService builds the Kafka-facing enricher service.
func NewService(enricher *Enricher, producer messaging.Publisher, topic string, log *logrus.Entry) *Service {
	return &Service{enricher: enricher, producer: producer, topic: topic, log: log}
}

// HandleMessage consumes one normalized event and produces its enriched
// form. Malformed messages are logged and skipped so the partition keeps
// moving.
func (s *Service) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	normalized, err := events.Decode[events.NormalizedEvent](msg.Value)
	if err != nil {
		normalizedEvents.WithLabelValues("malformed").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to decode normalized event, skipping")
		return nil
	}

	enriched := s.enricher.Enrich(ctx, normalized)

	if err := s.producer.Publish(s.topic, enriched.DeviceID, enriched); err != nil {
		normalizedEvents.WithLabelValues("publish_error").Inc()
		return fmt.Errorf("failed to publish enriched event: %w", err)
	}

	status := "passthrough"
	if enriched.PatientContext != nil {
		status = "enriched"
	}
	normalizedEvents.WithLabelValues(status).Inc()

	s.log.WithFields(logrus.Fields{
		"event_id":        enriched.EventID,
		"trace_id":        enriched.TraceID,
		"source_event_id": enriched.SourceEventID,
		"patient_id":      enriched.PatientID,
		"has_context":     enriched.PatientContext != nil,
	}).Info("Produced enriched event")

	return nil
}
