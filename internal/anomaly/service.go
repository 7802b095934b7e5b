package anomaly

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/pkg/messaging"
	"github.com/terminal-bench/vitalflow/shared/events"
)

const (
	protocolVersion = "1.0.0"
	engineName      = "z_score_baseline"
	engineVersion   = "1.0.0"
)

// Service answers scoring requests using the z-score engine.
type Service struct {
	engine *Engine
	log    *logrus.Entry
}

// NewService wraps an engine for the RPC contract.
func NewService(engine *Engine, log *logrus.Entry) *Service {
	return &Service{
		engine: engine,
		log:    logging.Named(log, "service"),
	}
}

// Score implements messaging.Scorer. Requests with none of the core
// vitals get an INVALID_REQUEST reply; engine failures surface as
// errors so the transport can answer INTERNAL_ERROR.
func (s *Service) Score(ctx context.Context, req *messaging.ScoreRequest) (*messaging.ScoreResponse, error) {
	start := time.Now()

	values := coreVitals(req.Vitals)
	if len(values) == 0 {
		scoreRequests.WithLabelValues("invalid_request").Inc()
		return &messaging.ScoreResponse{
			Version:   protocolVersion,
			Status:    messaging.StatusInvalidRequest,
			PatientID: req.PatientID,
			Timestamp: events.FormatTimestamp(time.Now()),
			Message:   "Missing required vital signs: hr, spo2, or temp",
		}, nil
	}

	assessment, err := s.engine.ScoreVitals(ctx, req.PatientID, values)
	if err != nil {
		scoreRequests.WithLabelValues("internal_error").Inc()
		return nil, err
	}

	resp := &messaging.ScoreResponse{
		Version:       protocolVersion,
		Status:        messaging.StatusSuccess,
		PatientID:     req.PatientID,
		Timestamp:     events.FormatTimestamp(time.Now()),
		Message:       assessment.Explanation,
		AnomalyScores: make(map[string]events.AnomalyScore, len(assessment.Vitals)),
		OverallRisk: events.OverallRiskScore{
			Score:             assessment.Score,
			Severity:          Severity(assessment.Score),
			AggregationMethod: "z_score_based",
		},
		Metadata: events.ScoringMetadata{
			ScoredAt:             events.FormatTimestamp(time.Now()),
			ScoringEngine:        engineName,
			ScoringEngineVersion: engineVersion,
			ProcessingTimeMs:     time.Since(start).Milliseconds(),
		},
	}

	for vitalType, result := range assessment.Vitals {
		resp.AnomalyScores[eventVital(vitalType)] = events.AnomalyScore{
			Score:    result.Score,
			Severity: Severity(result.Score),
		}
	}

	scoreRequests.WithLabelValues("success").Inc()
	scoreDuration.Observe(time.Since(start).Seconds())

	s.log.WithFields(logrus.Fields{
		"patient_id":    req.PatientID,
		"overall_score": assessment.Score,
		"severity":      resp.OverallRisk.Severity,
	}).Info("Scored vitals request")

	return resp, nil
}

// coreVitals pulls the scoreable measurements out of the wire vitals.
func coreVitals(vitals events.Vitals) map[string]float64 {
	values := make(map[string]float64, 3)
	if v, ok := vitals[events.VitalHeartRate].Float(); ok {
		values[VitalHR] = v
	}
	if v, ok := vitals[events.VitalOxygenSaturation].Float(); ok {
		values[VitalSpO2] = v
	}
	if v, ok := vitals[events.VitalTemperature].Float(); ok {
		values[VitalTemp] = v
	}
	return values
}

// eventVital maps a baseline key back to the wire vital name.
func eventVital(vitalType string) string {
	switch vitalType {
	case VitalHR:
		return events.VitalHeartRate
	case VitalSpO2:
		return events.VitalOxygenSaturation
	case VitalTemp:
		return events.VitalTemperature
	}
	return vitalType
}
