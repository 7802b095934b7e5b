package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/pkg/circuit"
	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/pkg/messaging"
	"github.com/terminal-bench/vitalflow/shared/events"
)

const ruleVersion = "1.0.0"

// Topics names the two output topics of the rules stage.
type Topics struct {
	Scored string
	Alerts string
}

// Service consumes enriched telemetry, applies the rule set, obtains
// anomaly scores, and emits a scored event per input plus an alert when
// rules fire.
type Service struct {
	engine   *Engine
	scorer   messaging.Scorer
	breaker  *circuit.Breaker
	producer messaging.Publisher
	topics   Topics
	log      *logrus.Entry
}

// NewService wires the rules stage together.
func NewService(engine *Engine, scorer messaging.Scorer, breaker *circuit.Breaker, producer messaging.Publisher, topics Topics, log *logrus.Entry) *Service {
	return &Service{
		engine:   engine,
		scorer:   scorer,
		breaker:  breaker,
		producer: producer,
		topics:   topics,
		log:      logging.Named(log, "service"),
	}
}

// HandleMessage implements messaging.Handler. Every decodable event
// with vitals yields exactly one scored event; alerts are emitted only
// when the fused rule severity is not OK.
func (s *Service) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	enriched, err := events.Decode[events.EnrichedEvent](msg.Value)
	if err != nil {
		enrichedEvents.WithLabelValues("malformed").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to parse enriched event")
		return nil
	}

	log := s.log.WithFields(logrus.Fields{
		logging.FieldEventID: enriched.EventID,
		logging.FieldTraceID: enriched.TraceID,
		"patient_id":         enriched.PatientID,
	})
	log.Info("Processing enriched event")

	if len(enriched.Vitals) == 0 {
		enrichedEvents.WithLabelValues("no_vitals").Inc()
		log.Warnf("No vitals found in event %s, skipping", enriched.EventID)
		return nil
	}

	severity, triggered := s.engine.Evaluate(enriched.Vitals)
	log.WithFields(logrus.Fields{
		"severity":        severity,
		"rules_triggered": len(triggered),
	}).Info("Evaluated rules")

	result := s.scoreVitals(ctx, enriched)

	scored := s.buildScoredEvent(enriched, result)
	if err := s.producer.Publish(s.topics.Scored, scored.DeviceID, scored); err != nil {
		enrichedEvents.WithLabelValues("publish_error").Inc()
		return fmt.Errorf("failed to publish scored event: %w", err)
	}
	log.WithField("scored_event_id", scored.EventID).Info("Produced scored event")

	if severity != events.RuleSeverityOK {
		alert := s.buildAlertEvent(enriched, scored, severity, triggered, result.OverallRisk.Score)
		if err := s.producer.Publish(s.topics.Alerts, alert.PatientID, alert); err != nil {
			enrichedEvents.WithLabelValues("publish_error").Inc()
			return fmt.Errorf("failed to publish alert event: %w", err)
		}
		alertsRaised.WithLabelValues(severity).Inc()
		log.WithFields(logrus.Fields{
			"alert_id": alert.EventID,
			"severity": severity,
		}).Warn("Produced alert event")
	}

	enrichedEvents.WithLabelValues("scored").Inc()
	return nil
}

// scoreVitals asks the anomaly service for scores through the circuit
// breaker, degrading to a neutral result when no answer is available so
// the scored stream never stalls. Only transport failures count against
// the breaker; a reply that rejects the request means the scorer is up.
func (s *Service) scoreVitals(ctx context.Context, enriched *events.EnrichedEvent) *messaging.ScoreResponse {
	req := &messaging.ScoreRequest{
		Version:        "1.0.0",
		PatientID:      enriched.PatientID,
		DeviceID:       enriched.DeviceID,
		Timestamp:      enriched.Timestamp,
		Vitals:         enriched.Vitals,
		PatientContext: enriched.PatientContext,
	}

	var resp *messaging.ScoreResponse
	err := s.breaker.Execute(ctx, func() error {
		r, scoreErr := s.scorer.Score(ctx, req)
		if errors.Is(scoreErr, messaging.ErrScoreFailed) {
			resp = r
			return nil
		}
		resp = r
		return scoreErr
	})

	if err != nil || resp == nil || resp.Status != messaging.StatusSuccess {
		scorerFallbacks.Inc()
		s.log.WithError(err).WithField(logging.FieldEventID, enriched.EventID).
			Error("Failed to score vitals, using fallback scores")
		return fallbackResponse()
	}

	return resp
}

// fallbackResponse is the neutral scoring result used when the anomaly
// service cannot answer.
func fallbackResponse() *messaging.ScoreResponse {
	return &messaging.ScoreResponse{
		Version:       "1.0.0",
		AnomalyScores: map[string]events.AnomalyScore{},
		OverallRisk: events.OverallRiskScore{
			Score:             0.0,
			Severity:          events.SeverityNormal,
			AggregationMethod: "default",
		},
		Metadata: events.ScoringMetadata{
			ScoredAt:             events.FormatTimestamp(time.Now()),
			ScoringEngine:        "rules-engine-fallback",
			ScoringEngineVersion: "1.0.0",
			ProcessingTimeMs:     0,
		},
	}
}

func (s *Service) buildScoredEvent(enriched *events.EnrichedEvent, result *messaging.ScoreResponse) *events.ScoredEvent {
	scores := result.AnomalyScores
	if scores == nil {
		scores = map[string]events.AnomalyScore{}
	}

	return &events.ScoredEvent{
		Envelope:      events.NewEnvelope(enriched.Envelope, events.TelemetryScored),
		DeviceID:      enriched.DeviceID,
		PatientID:     enriched.PatientID,
		Vitals:        enriched.Vitals,
		AnomalyScores: scores,
		OverallRisk:   result.OverallRisk,
		Scoring: events.ScoringMetadata{
			ScoredAt:             events.FormatTimestamp(time.Now()),
			ScoringEngine:        defaultString(result.Metadata.ScoringEngine, "anomaly_detection"),
			ScoringEngineVersion: defaultString(result.Metadata.ScoringEngineVersion, "1.0.0"),
			ProcessingTimeMs:     result.Metadata.ProcessingTimeMs,
		},
	}
}

func (s *Service) buildAlertEvent(enriched *events.EnrichedEvent, scored *events.ScoredEvent, severity string, triggered []Result, anomalyScore float64) *events.AlertEvent {
	envelope := events.NewEnvelope(scored.Envelope, events.AlertsRaised)
	envelope.Version = "1.0.0"
	envelope.Timestamp = events.FormatTimestamp(time.Now())

	alertType := events.AlertTypeVitalSign
	if len(triggered) > 1 {
		alertType = events.AlertTypeMultiVital
	} else if anyRuleContains(triggered, "combined") {
		alertType = events.AlertTypeCriticalCondition
	}

	vitalSign := "multiple"
	if len(triggered) == 1 {
		switch {
		case anyRuleContains(triggered, "hr"):
			vitalSign = events.VitalHeartRate
		case anyRuleContains(triggered, "spo2"):
			vitalSign = events.VitalOxygenSaturation
		case anyRuleContains(triggered, "temp"):
			vitalSign = events.VitalTemperature
		}
	}

	messages := make([]string, 0, len(triggered))
	ruleIDs := make([]string, 0, len(triggered))
	for _, r := range triggered {
		messages = append(messages, r.Message)
		ruleIDs = append(ruleIDs, r.RuleID)
	}

	metrics := make(events.Vitals, 3)
	for _, name := range []string{events.VitalHeartRate, events.VitalOxygenSaturation, events.VitalTemperature} {
		if reading, ok := enriched.Vitals[name]; ok {
			metrics[name] = reading
		}
	}

	var patientContext *events.AlertPatientContext
	if pc := enriched.PatientContext; pc != nil {
		conditions := pc.MedicalConditions
		if conditions == nil {
			conditions = []string{}
		}
		medications := pc.Medications
		if medications == nil {
			medications = []string{}
		}
		patientContext = &events.AlertPatientContext{
			Age:                pc.Age,
			MedicalConditions:  conditions,
			CurrentMedications: medications,
		}
	}

	return &events.AlertEvent{
		Envelope:  envelope,
		PatientID: enriched.PatientID,
		DeviceID:  enriched.DeviceID,
		AlertType: alertType,
		Severity:  severity,
		Condition: events.AlertCondition{
			Description:  strings.Join(messages, "; "),
			VitalSign:    vitalSign,
			AnomalyScore: anomalyScore,
		},
		Details: events.AlertDetails{
			Metrics:        metrics,
			RulesTriggered: ruleIDs,
			AnomalyScore:   anomalyScore,
		},
		AlertMetadata: events.AlertMetadata{
			RaisedBy:     "rules-engine",
			RuleVersion:  ruleVersion,
			Acknowledged: false,
			Resolved:     false,
		},
		PatientContext: patientContext,
	}
}

func anyRuleContains(triggered []Result, substr string) bool {
	for _, r := range triggered {
		if strings.Contains(r.RuleID, substr) {
			return true
		}
	}
	return false
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
