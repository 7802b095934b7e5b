package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/shared/events"
)

// Default subject and queue group for the anomaly scoring channel.
const (
	DefaultScoreSubject = "anomaly.v1.score"
	ScoreQueueGroup     = "anomaly-scorers"
)

// Scoring response statuses.
const (
	StatusSuccess        = "SUCCESS"
	StatusInvalidRequest = "INVALID_REQUEST"
	StatusInternalError  = "INTERNAL_ERROR"
)

// ErrScoreFailed marks a reply whose status is not SUCCESS.
var ErrScoreFailed = errors.New("scoring request rejected")

// ScoreRequest asks the anomaly service to score one event's vitals.
type ScoreRequest struct {
	Version        string                 `json:"version"`
	PatientID      string                 `json:"patient_id"`
	DeviceID       string                 `json:"device_id"`
	Timestamp      string                 `json:"timestamp"`
	Vitals         events.Vitals          `json:"vitals"`
	PatientContext *events.PatientContext `json:"patient_context,omitempty"`
}

// ScoreResponse carries per-vital scores and the fused overall risk.
type ScoreResponse struct {
	Version       string                         `json:"version"`
	Status        string                         `json:"status"`
	PatientID     string                         `json:"patient_id"`
	Timestamp     string                         `json:"timestamp"`
	Message       string                         `json:"message,omitempty"`
	AnomalyScores map[string]events.AnomalyScore `json:"anomaly_scores,omitempty"`
	OverallRisk   events.OverallRiskScore        `json:"overall_risk_score"`
	Metadata      events.ScoringMetadata         `json:"metadata"`
}

// Scorer is anything that can score vitals: the in-process engine on the
// anomaly side, the NATS client on the rules side.
type Scorer interface {
	Score(ctx context.Context, req *ScoreRequest) (*ScoreResponse, error)
}

// NATSScorer performs scoring over NATS request-reply.
type NATSScorer struct {
	client  *NATSClient
	subject string
	timeout time.Duration
}

// NewNATSScorer builds a remote scorer with a per-request deadline.
func NewNATSScorer(client *NATSClient, subject string, timeout time.Duration) *NATSScorer {
	return &NATSScorer{client: client, subject: subject, timeout: timeout}
}

// Score sends the request and decodes the reply. A reply with a
// non-SUCCESS status is returned alongside ErrScoreFailed so callers can
// fall back.
func (s *NATSScorer) Score(ctx context.Context, req *ScoreRequest) (*ScoreResponse, error) {
	msg, err := s.client.Request(ctx, s.subject, req, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}

	resp, err := events.Decode[ScoreResponse](msg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scoring response: %w", err)
	}

	if resp.Status != StatusSuccess {
		return resp, fmt.Errorf("%w: %s: %s", ErrScoreFailed, resp.Status, resp.Message)
	}
	return resp, nil
}

// ServeScorer subscribes the given scorer on a queue group and answers
// scoring requests until the client is closed. Malformed payloads get an
// INVALID_REQUEST reply; scorer errors get INTERNAL_ERROR.
func ServeScorer(client *NATSClient, subject, queue string, scorer Scorer, log *logrus.Entry) error {
	return client.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		req, err := events.Decode[ScoreRequest](msg.Data)
		if err != nil {
			log.WithError(err).Warn("Rejected malformed scoring request")
			respond(msg, &ScoreResponse{
				Version:   "1.0.0",
				Status:    StatusInvalidRequest,
				Timestamp: events.FormatTimestamp(time.Now()),
				Message:   fmt.Sprintf("Malformed request: %v", err),
			}, log)
			return
		}

		resp, err := scorer.Score(context.Background(), req)
		if err != nil {
			log.WithError(err).WithField("patient_id", req.PatientID).Error("Scoring failed")
			respond(msg, &ScoreResponse{
				Version:   "1.0.0",
				Status:    StatusInternalError,
				PatientID: req.PatientID,
				Timestamp: events.FormatTimestamp(time.Now()),
				Message:   fmt.Sprintf("Internal error: %v", err),
			}, log)
			return
		}
		respond(msg, resp, log)
	})
}

func respond(msg *nats.Msg, resp *ScoreResponse, log *logrus.Entry) {
	data, err := events.Encode(resp)
	if err != nil {
		log.WithError(err).Error("Failed to encode scoring response")
		return
	}
	if err := msg.Respond(data); err != nil {
		log.WithError(err).Error("Failed to send scoring response")
	}
}
