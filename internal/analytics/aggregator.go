package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/shared/events"
)

// Default rolling windows maintained per patient.
const (
	DefaultWindow15m = 15 * time.Minute
	DefaultWindow1h  = time.Hour
)

// trackedVitals are the scalar vitals maintained in rolling windows.
var trackedVitals = []string{
	events.VitalHeartRate,
	events.VitalOxygenSaturation,
	events.VitalTemperature,
}

// WindowStats groups one vital's stats by window label.
type WindowStats map[string]VitalStats

// PatientSummary is the query-side roll-up for one patient. LastVitals is
// null until the first scored event arrives.
type PatientSummary struct {
	PatientID       string                 `json:"patient_id"`
	LastVitals      map[string]interface{} `json:"last_vitals"`
	RollingAverages map[string]WindowStats `json:"rolling_averages"`
}

// Aggregator folds scored events and alerts into the Redis aggregates and
// assembles patient summaries for the query side.
type Aggregator struct {
	store   *Store
	windows []time.Duration
	log     *logrus.Entry
}

// NewAggregator builds an aggregator over the given rolling windows,
// defaulting to 15 minutes and 1 hour.
func NewAggregator(store *Store, windows []time.Duration, log *logrus.Entry) *Aggregator {
	if len(windows) == 0 {
		windows = []time.Duration{DefaultWindow15m, DefaultWindow1h}
	}
	return &Aggregator{store: store, windows: windows, log: log}
}

// HandleScored updates the last-vitals snapshot and every rolling window
// with one scored event. Events without a patient id or a parseable
// timestamp are skipped.
func (a *Aggregator) HandleScored(ctx context.Context, event *events.ScoredEvent) error {
	if event.PatientID == "" {
		a.log.WithField("event_id", event.EventID).Warn("Missing patient_id in scored event, skipping")
		return nil
	}

	ts, err := events.ParseTimestamp(event.Timestamp)
	if err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{
			"event_id":  event.EventID,
			"timestamp": event.Timestamp,
		}).Error("Failed to parse scored event timestamp, skipping")
		return nil
	}

	if err := a.store.UpdateLastVitals(ctx, event.PatientID, event.Vitals); err != nil {
		return fmt.Errorf("failed to update last vitals: %w", err)
	}

	for _, vital := range trackedVitals {
		value, ok := event.Vitals[vital].Float()
		if !ok {
			continue
		}
		for _, window := range a.windows {
			if err := a.store.AddVitalSample(ctx, event.PatientID, vital, value, ts, window); err != nil {
				return fmt.Errorf("failed to update %s window: %w", vital, err)
			}
		}
	}

	a.log.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"patient_id": event.PatientID,
	}).Debug("Aggregated scored event")
	return nil
}

// HandleAlert bumps the per-minute counter for the alert's severity.
func (a *Aggregator) HandleAlert(ctx context.Context, alert *events.AlertEvent) error {
	if alert.Severity == "" {
		a.log.WithField("event_id", alert.EventID).Warn("Missing severity in alert event, skipping")
		return nil
	}

	ts, err := events.ParseTimestamp(alert.Timestamp)
	if err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{
			"event_id":  alert.EventID,
			"timestamp": alert.Timestamp,
		}).Error("Failed to parse alert timestamp, skipping")
		return nil
	}

	if err := a.store.IncrementAlertCount(ctx, alert.Severity, ts); err != nil {
		return fmt.Errorf("failed to increment alert count: %w", err)
	}
	return nil
}

// PatientSummary assembles last vitals plus rolling stats for every
// tracked vital and window.
func (a *Aggregator) PatientSummary(ctx context.Context, patientID string) (*PatientSummary, error) {
	last, err := a.store.LastVitals(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last vitals: %w", err)
	}

	rolling := make(map[string]WindowStats, len(trackedVitals))
	for _, vital := range trackedVitals {
		perWindow := make(WindowStats, len(a.windows))
		for _, window := range a.windows {
			stats, err := a.store.RollingStats(ctx, patientID, vital, window)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s stats: %w", vital, err)
			}
			perWindow[windowLabel(window)] = stats
		}
		rolling[vital] = perWindow
	}

	return &PatientSummary{
		PatientID:       patientID,
		LastVitals:      last,
		RollingAverages: rolling,
	}, nil
}

// windowLabel renders a window the way dashboards expect, "15m" or "1h".
func windowLabel(window time.Duration) string {
	if window >= time.Hour && window%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(window.Hours()))
	}
	return fmt.Sprintf("%dm", int(window.Minutes()))
}
