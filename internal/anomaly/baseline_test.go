package anomaly_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/vitalflow/internal/anomaly"
	"github.com/terminal-bench/vitalflow/shared/events"
)

func sample(value float64) anomaly.Sample {
	return anomaly.Sample{Value: value, Timestamp: events.Now()}
}

func appendAll(t *testing.T, store anomaly.BaselineStore, patientID, vitalType string, values ...float64) {
	t.Helper()
	for _, v := range values {
		require.NoError(t, store.Append(context.Background(), patientID, vitalType, sample(v)))
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should return zero stats for an empty window", func(t *testing.T) {
		store := anomaly.NewMemoryStore(10)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, anomaly.Stats{}, stats)
	})

	t.Run("should compute mean and sample standard deviation", func(t *testing.T) {
		store := anomaly.NewMemoryStore(10)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 10, 12, 14)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, 3, stats.Count)
		assert.InDelta(t, 12.0, stats.Mean, 1e-9)
		assert.InDelta(t, 2.0, stats.StdDev, 1e-9)
	})

	t.Run("should report zero deviation for a single sample", func(t *testing.T) {
		store := anomaly.NewMemoryStore(10)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 72)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, 1, stats.Count)
		assert.Equal(t, 72.0, stats.Mean)
		assert.Equal(t, 0.0, stats.StdDev)
	})

	t.Run("should evict the oldest samples past the window", func(t *testing.T) {
		store := anomaly.NewMemoryStore(3)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 1, 2, 3, 4)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, 3, stats.Count)
		assert.InDelta(t, 3.0, stats.Mean, 1e-9)
	})

	t.Run("should keep patients and vital types separate", func(t *testing.T) {
		store := anomaly.NewMemoryStore(10)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 70, 72)
		appendAll(t, store, "patient-1", anomaly.VitalSpO2, 98)
		appendAll(t, store, "patient-2", anomaly.VitalHR, 55)

		hr1, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)
		require.NoError(t, err)
		spo1, err := store.Stats(ctx, "patient-1", anomaly.VitalSpO2)
		require.NoError(t, err)
		hr2, err := store.Stats(ctx, "patient-2", anomaly.VitalHR)
		require.NoError(t, err)

		assert.Equal(t, 2, hr1.Count)
		assert.Equal(t, 1, spo1.Count)
		assert.Equal(t, 1, hr2.Count)
		assert.Equal(t, 55.0, hr2.Mean)
	})
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T, windowSize int) (*anomaly.RedisStore, *miniredis.Miniredis) {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return anomaly.NewRedisStore(client, windowSize), mr
	}

	t.Run("should append and read back samples", func(t *testing.T) {
		store, _ := newStore(t, 10)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 10, 12, 14)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, 3, stats.Count)
		assert.InDelta(t, 12.0, stats.Mean, 1e-9)
		assert.InDelta(t, 2.0, stats.StdDev, 1e-9)
	})

	t.Run("should trim to the window size", func(t *testing.T) {
		store, _ := newStore(t, 3)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 1, 2, 3, 4, 5)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, 3, stats.Count)
		// Newest three samples survive the trim
		assert.InDelta(t, 4.0, stats.Mean, 1e-9)
	})

	t.Run("should expire idle baselines", func(t *testing.T) {
		store, mr := newStore(t, 10)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 70)

		ttl := mr.TTL("baseline:patient-1:hr")
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, 7*24*time.Hour)
	})

	t.Run("should skip entries in an unreadable format", func(t *testing.T) {
		store, mr := newStore(t, 10)
		_, err := mr.Lpush("baseline:patient-1:hr", "not-json")
		require.NoError(t, err)
		appendAll(t, store, "patient-1", anomaly.VitalHR, 70, 74)

		stats, err := store.Stats(ctx, "patient-1", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, 2, stats.Count)
		assert.InDelta(t, 72.0, stats.Mean, 1e-9)
	})

	t.Run("should return zero stats for an unknown patient", func(t *testing.T) {
		store, _ := newStore(t, 10)

		stats, err := store.Stats(ctx, "nobody", anomaly.VitalHR)

		require.NoError(t, err)
		assert.Equal(t, anomaly.Stats{}, stats)
	})
}
