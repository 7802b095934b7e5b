package anomaly_test

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/vitalflow/internal/anomaly"
	"github.com/terminal-bench/vitalflow/shared/events"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func seed(t *testing.T, store anomaly.BaselineStore, patientID, vitalType string, value float64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		appendAll(t, store, patientID, vitalType, value)
	}
}

func TestEngineColdStart(t *testing.T) {
	ctx := context.Background()

	t.Run("should flag out-of-range values with a capped score", func(t *testing.T) {
		engine := anomaly.NewEngine(anomaly.NewMemoryStore(100), 10, testLogger())

		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 150)

		require.NoError(t, err)
		assert.Equal(t, 0.5, result.Score)
		assert.False(t, result.IsAnomaly)
		assert.Equal(t,
			"HR value 150.00 is outside normal range (60-100), but insufficient baseline data (0 samples)",
			result.Explanation)
	})

	t.Run("should score in-range values low", func(t *testing.T) {
		engine := anomaly.NewEngine(anomaly.NewMemoryStore(100), 10, testLogger())

		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 72)

		require.NoError(t, err)
		assert.Equal(t, 0.2, result.Score)
		assert.False(t, result.IsAnomaly)
		assert.Equal(t,
			"HR value 72.00 is within normal range, but insufficient baseline data (0 samples)",
			result.Explanation)
	})

	t.Run("should record the sample after scoring it", func(t *testing.T) {
		store := anomaly.NewMemoryStore(100)
		engine := anomaly.NewEngine(store, 10, testLogger())

		_, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 72)
		require.NoError(t, err)

		// The first sample landed, so the second sees a count of one
		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 73)
		require.NoError(t, err)
		assert.Contains(t, result.Explanation, "(1 samples)")

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Count)
	})

	t.Run("should stay cold until the baseline fills", func(t *testing.T) {
		store := anomaly.NewMemoryStore(100)
		engine := anomaly.NewEngine(store, 10, testLogger())
		seed(t, store, "patient-1", anomaly.VitalHR, 70, 9)

		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 70)
		require.NoError(t, err)
		assert.Contains(t, result.Explanation, "(9 samples)")

		// That call filled the window, the next one scores against it
		result, err = engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 70)
		require.NoError(t, err)
		assert.Contains(t, result.Explanation, "baseline (mean=")
	})
}

func TestEngineWarmScoring(t *testing.T) {
	ctx := context.Background()

	t.Run("should map z-scores onto score bands", func(t *testing.T) {
		// A constant baseline floors the deviation at 0.1, so the
		// distance from 70 sets the z-score exactly.
		cases := []struct {
			value   float64
			score   float64
			anomaly bool
		}{
			{70.05, 0.1, false},
			{70.15, 0.3, false},
			{70.25, 0.5, false},
			{70.35, 0.7, true},
			{70.45, 0.825, true},
			{71.2, 1.0, true},
		}

		for i, tc := range cases {
			store := anomaly.NewMemoryStore(100)
			engine := anomaly.NewEngine(store, 10, testLogger())
			patientID := fmt.Sprintf("patient-%d", i)
			seed(t, store, patientID, anomaly.VitalHR, 70, 10)

			result, err := engine.ScoreVital(ctx, patientID, anomaly.VitalHR, tc.value)

			require.NoError(t, err)
			assert.InDelta(t, tc.score, result.Score, 1e-9, "value %g", tc.value)
			assert.Equal(t, tc.anomaly, result.IsAnomaly, "value %g", tc.value)
		}
	})

	t.Run("should join the score bands continuously", func(t *testing.T) {
		// Values at exact band edges; both neighbouring segments must
		// agree on the score there.
		edges := []struct {
			value float64
			score float64
		}{
			{70.1, 0.2},
			{70.2, 0.4},
			{70.3, 0.6},
			{70.4, 0.8},
		}

		for i, tc := range edges {
			store := anomaly.NewMemoryStore(100)
			engine := anomaly.NewEngine(store, 10, testLogger())
			patientID := fmt.Sprintf("edge-%d", i)
			seed(t, store, patientID, anomaly.VitalHR, 70, 10)

			result, err := engine.ScoreVital(ctx, patientID, anomaly.VitalHR, tc.value)

			require.NoError(t, err)
			assert.InDelta(t, tc.score, result.Score, 1e-9, "value %g", tc.value)
		}
	})

	t.Run("should explain the deviation", func(t *testing.T) {
		store := anomaly.NewMemoryStore(100)
		engine := anomaly.NewEngine(store, 10, testLogger())
		seed(t, store, "patient-1", anomaly.VitalHR, 70, 10)

		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 70.05)

		require.NoError(t, err)
		assert.Contains(t, result.Explanation, "above baseline (mean=70.00, std=0.10")
		assert.Contains(t, result.Explanation, "z-score=0.50")
	})

	t.Run("should report the direction of the deviation", func(t *testing.T) {
		store := anomaly.NewMemoryStore(100)
		engine := anomaly.NewEngine(store, 10, testLogger())
		seed(t, store, "patient-1", anomaly.VitalHR, 70, 10)

		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 69.95)

		require.NoError(t, err)
		assert.Contains(t, result.Explanation, "below baseline")
	})

	t.Run("should score against the window as it stood before the measurement", func(t *testing.T) {
		store := anomaly.NewMemoryStore(100)
		engine := anomaly.NewEngine(store, 10, testLogger())
		seed(t, store, "patient-1", anomaly.VitalHR, 70, 10)

		// If 90 were folded in first, the inflated deviation would pull
		// the score well under the cap.
		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 90)

		require.NoError(t, err)
		assert.InDelta(t, 1.0, result.Score, 1e-9)
		assert.True(t, result.IsAnomaly)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)
		require.NoError(t, err)
		assert.Equal(t, 11, stats.Count)
	})

	t.Run("should use a real standard deviation when the window varies", func(t *testing.T) {
		store := anomaly.NewMemoryStore(100)
		engine := anomaly.NewEngine(store, 10, testLogger())
		// Window of 10, 12, ..., alternating around mean 11
		for i := 0; i < 5; i++ {
			appendAll(t, store, "patient-1", anomaly.VitalHR, 10, 12)
		}

		result, err := engine.ScoreVital(ctx, "patient-1", anomaly.VitalHR, 11)

		require.NoError(t, err)
		// Exactly on the mean, whatever the deviation
		assert.InDelta(t, 0.0, result.Score, 1e-9)
		assert.Contains(t, result.Explanation, "mean=11.00")
	})
}

func TestEngineScoreVitals(t *testing.T) {
	ctx := context.Background()

	t.Run("should renormalize weights over the vitals present", func(t *testing.T) {
		engine := anomaly.NewEngine(anomaly.NewMemoryStore(100), 10, testLogger())

		assessment, err := engine.ScoreVitals(ctx, "patient-1", map[string]float64{
			anomaly.VitalHR:   150, // outside range, 0.5
			anomaly.VitalSpO2: 98,  // within range, 0.2
		})

		require.NoError(t, err)
		assert.InDelta(t, 0.35, assessment.Score, 1e-9)
		assert.False(t, assessment.IsAnomaly)
		assert.Len(t, assessment.Vitals, 2)
	})

	t.Run("should weight all three vitals", func(t *testing.T) {
		engine := anomaly.NewEngine(anomaly.NewMemoryStore(100), 10, testLogger())

		assessment, err := engine.ScoreVitals(ctx, "patient-1", map[string]float64{
			anomaly.VitalHR:   150,  // 0.5
			anomaly.VitalSpO2: 80,   // 0.5
			anomaly.VitalTemp: 36.5, // 0.2
		})

		require.NoError(t, err)
		assert.InDelta(t, 0.41, assessment.Score, 1e-9)
	})

	t.Run("should join explanations in a fixed order", func(t *testing.T) {
		engine := anomaly.NewEngine(anomaly.NewMemoryStore(100), 10, testLogger())

		assessment, err := engine.ScoreVitals(ctx, "patient-1", map[string]float64{
			anomaly.VitalTemp: 36.5,
			anomaly.VitalHR:   72,
		})

		require.NoError(t, err)
		assert.Equal(t,
			"HR value 72.00 is within normal range, but insufficient baseline data (0 samples)"+
				" | TEMP value 36.50 is within normal range, but insufficient baseline data (0 samples)",
			assessment.Explanation)
	})

	t.Run("should mark the assessment anomalous when any vital is", func(t *testing.T) {
		store := anomaly.NewMemoryStore(100)
		engine := anomaly.NewEngine(store, 10, testLogger())
		seed(t, store, "patient-1", anomaly.VitalHR, 70, 10)

		assessment, err := engine.ScoreVitals(ctx, "patient-1", map[string]float64{
			anomaly.VitalHR:   90,   // far off the baseline
			anomaly.VitalSpO2: 98,   // cold, 0.2
			anomaly.VitalTemp: 36.5, // cold, 0.2
		})

		require.NoError(t, err)
		assert.True(t, assessment.IsAnomaly)
		assert.True(t, assessment.Vitals[anomaly.VitalHR].IsAnomaly)
		assert.False(t, assessment.Vitals[anomaly.VitalSpO2].IsAnomaly)
	})

	t.Run("should reject requests with nothing scoreable", func(t *testing.T) {
		engine := anomaly.NewEngine(anomaly.NewMemoryStore(100), 10, testLogger())

		_, err := engine.ScoreVitals(ctx, "patient-1", map[string]float64{})
		assert.ErrorIs(t, err, anomaly.ErrNoVitals)

		_, err = engine.ScoreVitals(ctx, "patient-1", map[string]float64{"glucose": 5.4})
		assert.ErrorIs(t, err, anomaly.ErrNoVitals)
	})
}

func TestSeverity(t *testing.T) {
	t.Run("should map scores onto severity bands", func(t *testing.T) {
		cases := []struct {
			score float64
			want  string
		}{
			{0.0, events.SeverityNormal},
			{0.19, events.SeverityNormal},
			{0.2, events.SeverityLow},
			{0.39, events.SeverityLow},
			{0.4, events.SeverityMedium},
			{0.5, events.SeverityMedium},
			{0.6, events.SeverityHigh},
			{0.79, events.SeverityHigh},
			{0.8, events.SeverityCritical},
			{1.0, events.SeverityCritical},
		}

		for _, tc := range cases {
			assert.Equal(t, tc.want, anomaly.Severity(tc.score), "score %g", tc.score)
		}
	})
}
