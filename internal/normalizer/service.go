package normalizer

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/pkg/messaging"
	"github.com/terminal-bench/vitalflow/shared/events"
)

// Service wires the normalizer between the raw and normalized topics.
type Service struct {
	normalizer *Normalizer
	producer   messaging.Publisher
	topic      string
	log        *logrus.Entry
}

// NewService creates the consumer-side glue for the normalizer.
func NewService(n *Normalizer, producer messaging.Publisher, topic string, log *logrus.Entry) *Service {
	return &Service{
		normalizer: n,
		producer:   producer,
		topic:      topic,
		log:        logging.Named(log, "service"),
	}
}

// HandleMessage implements messaging.Handler. Malformed payloads are
// dropped with a log entry so a poison message never wedges the
// partition.
func (s *Service) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	raw, err := events.Decode[events.RawEvent](msg.Value)
	if err != nil {
		rawEvents.WithLabelValues("malformed").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to parse raw event")
		return nil
	}

	s.log.WithFields(logrus.Fields{
		logging.FieldEventID: raw.EventID,
		logging.FieldTraceID: raw.TraceID,
		"partition":          msg.Partition,
		"offset":             msg.Offset,
	}).Info("Consumed raw event")

	normalized := s.normalizer.Normalize(raw)

	if err := s.producer.Publish(s.topic, normalized.DeviceID, normalized); err != nil {
		rawEvents.WithLabelValues("publish_error").Inc()
		return fmt.Errorf("failed to publish normalized event: %w", err)
	}

	rawEvents.WithLabelValues("normalized").Inc()
	s.log.WithFields(logrus.Fields{
		logging.FieldEventID: normalized.EventID,
		logging.FieldTraceID: normalized.TraceID,
		"source_event_id":    raw.EventID,
		"validation_status":  normalized.ValidationStatus,
	}).Info("Produced normalized event")

	return nil
}
