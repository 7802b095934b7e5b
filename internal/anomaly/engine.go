package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/shared/events"
)

// DefaultMinSamples is the baseline size below which static population
// ranges are used instead of z-scores.
const DefaultMinSamples = 10

// Baseline vital keys. Storage and scoring use these short names; the
// wire uses the full vital names from shared/events.
const (
	VitalHR   = "hr"
	VitalSpO2 = "spo2"
	VitalTemp = "temp"
)

// ErrNoVitals means a request carried none of the scoreable vitals.
var ErrNoVitals = errors.New("no scoreable vitals in request")

type normalRange struct {
	min, max float64
}

// Population-level fallback ranges used while a baseline accumulates.
var normalRanges = map[string]normalRange{
	VitalHR:   {60, 100},
	VitalSpO2: {95, 100},
	VitalTemp: {36.1, 37.2},
}

// Weights for fusing per-vital scores into the overall risk score.
// Heart rate and SpO2 carry slightly more weight than temperature.
var vitalWeights = map[string]float64{
	VitalHR:   0.35,
	VitalSpO2: 0.35,
	VitalTemp: 0.30,
}

// scoredOrder fixes the order vitals are scored in so explanations
// join deterministically.
var scoredOrder = []string{VitalHR, VitalSpO2, VitalTemp}

// Z-score band edges for mapping deviation onto a 0..1 anomaly score.
const (
	zNormal = 1.0
	zLow    = 2.0
	zMedium = 3.0
	zHigh   = 4.0
)

// VitalResult is the outcome of scoring one vital.
type VitalResult struct {
	Score       float64
	IsAnomaly   bool
	Explanation string
}

// Assessment fuses per-vital results into an overall risk score.
type Assessment struct {
	Score       float64
	IsAnomaly   bool
	Explanation string
	Vitals      map[string]VitalResult
}

// Engine scores vitals against per-patient rolling baselines.
type Engine struct {
	store      BaselineStore
	minSamples int
	log        *logrus.Entry
}

// NewEngine creates a scoring engine over the given baseline store.
func NewEngine(store BaselineStore, minSamples int, log *logrus.Entry) *Engine {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Engine{
		store:      store,
		minSamples: minSamples,
		log:        logging.Named(log, "engine"),
	}
}

// ScoreVital scores one measurement and folds it into the baseline.
// While the window holds fewer than minSamples values the score comes
// from population ranges and the sample is recorded before scoring;
// once warm, the score is computed against the window as it was before
// this measurement.
func (e *Engine) ScoreVital(ctx context.Context, patientID, vitalType string, value float64) (VitalResult, error) {
	stats, err := e.store.Stats(ctx, patientID, vitalType)
	if err != nil {
		return VitalResult{}, fmt.Errorf("failed to load baseline for %s: %w", vitalType, err)
	}

	sample := Sample{
		Value:     value,
		Timestamp: events.FormatTimestamp(time.Now()),
	}

	if stats.Count < e.minSamples {
		if err := e.store.Append(ctx, patientID, vitalType, sample); err != nil {
			return VitalResult{}, fmt.Errorf("failed to update baseline for %s: %w", vitalType, err)
		}
		return coldResult(vitalType, value, stats.Count), nil
	}

	result := warmResult(vitalType, value, stats)

	if err := e.store.Append(ctx, patientID, vitalType, sample); err != nil {
		return VitalResult{}, fmt.Errorf("failed to update baseline for %s: %w", vitalType, err)
	}

	return result, nil
}

// ScoreVitals scores whichever of the core vitals are present and fuses
// them into a weighted overall score. Weights are renormalized over the
// vitals actually present so one missing vital does not deflate the
// overall risk.
func (e *Engine) ScoreVitals(ctx context.Context, patientID string, values map[string]float64) (*Assessment, error) {
	assessment := &Assessment{
		Vitals: make(map[string]VitalResult, len(values)),
	}

	var weighted, totalWeight float64
	explanations := make([]string, 0, len(scoredOrder))
	for _, vitalType := range scoredOrder {
		value, ok := values[vitalType]
		if !ok {
			continue
		}

		result, err := e.ScoreVital(ctx, patientID, vitalType, value)
		if err != nil {
			return nil, err
		}

		assessment.Vitals[vitalType] = result
		weighted += result.Score * vitalWeights[vitalType]
		totalWeight += vitalWeights[vitalType]
		explanations = append(explanations, result.Explanation)
		if result.IsAnomaly {
			assessment.IsAnomaly = true
		}
	}

	if totalWeight == 0 {
		return nil, ErrNoVitals
	}

	assessment.Score = weighted / totalWeight
	assessment.Explanation = strings.Join(explanations, " | ")

	e.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"score":      assessment.Score,
		"is_anomaly": assessment.IsAnomaly,
	}).Debug("Scored vitals")

	return assessment, nil
}

// coldResult scores against static population ranges. sampleCount is
// the window size before the current measurement was recorded.
func coldResult(vitalType string, value float64, sampleCount int) VitalResult {
	label := strings.ToUpper(vitalType)

	r, ok := normalRanges[vitalType]
	if !ok {
		return VitalResult{
			Score:       0.3,
			Explanation: fmt.Sprintf("Insufficient baseline data for %s (%d samples)", label, sampleCount),
		}
	}

	if value < r.min || value > r.max {
		return VitalResult{
			Score: 0.5,
			Explanation: fmt.Sprintf(
				"%s value %.2f is outside normal range (%g-%g), but insufficient baseline data (%d samples)",
				label, value, r.min, r.max, sampleCount),
		}
	}

	return VitalResult{
		Score: 0.2,
		Explanation: fmt.Sprintf(
			"%s value %.2f is within normal range, but insufficient baseline data (%d samples)",
			label, value, sampleCount),
	}
}

// warmResult scores by absolute z-score against the baseline window.
func warmResult(vitalType string, value float64, stats Stats) VitalResult {
	std := stats.StdDev
	if std == 0 {
		std = 0.1
	}
	z := math.Abs((value - stats.Mean) / std)

	var score float64
	switch {
	case z <= zNormal:
		score = (z / zNormal) * 0.2
	case z <= zLow:
		score = 0.2 + (z-zNormal)/(zLow-zNormal)*0.2
	case z <= zMedium:
		score = 0.4 + (z-zLow)/(zMedium-zLow)*0.2
	case z <= zHigh:
		score = 0.6 + (z-zMedium)/(zHigh-zMedium)*0.2
	default:
		score = 0.8 + math.Min((z-zHigh)/zHigh*0.2, 0.2)
	}
	score = math.Min(1.0, math.Max(0.0, score))

	direction := "below"
	if value > stats.Mean {
		direction = "above"
	}

	return VitalResult{
		Score:     score,
		IsAnomaly: score > 0.5,
		Explanation: fmt.Sprintf(
			"%s value %.2f is %s baseline (mean=%.2f, std=%.2f, z-score=%.2f). Anomaly score: %.2f",
			strings.ToUpper(vitalType), value, direction, stats.Mean, std, z, score),
	}
}

// Severity maps an anomaly score onto the shared severity bands.
func Severity(score float64) string {
	switch {
	case score < 0.2:
		return events.SeverityNormal
	case score < 0.4:
		return events.SeverityLow
	case score < 0.6:
		return events.SeverityMedium
	case score < 0.8:
		return events.SeverityHigh
	default:
		return events.SeverityCritical
	}
}
