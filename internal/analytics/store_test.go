package analytics_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/vitalflow/internal/analytics"
	"github.com/terminal-bench/vitalflow/shared/events"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T, alertWindow time.Duration) (*analytics.Store, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return analytics.NewStore(client, alertWindow), client, mr
}

func hrReading(value float64) events.VitalReading {
	return events.VitalReading{Value: events.Float(value), Unit: "bpm", Timestamp: events.Now()}
}

func TestLastVitals(t *testing.T) {
	ctx := context.Background()

	t.Run("should round-trip the snapshot", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)

		err := store.UpdateLastVitals(ctx, "patient-1", events.Vitals{
			events.VitalHeartRate: hrReading(72),
		})
		require.NoError(t, err)

		doc, err := store.LastVitals(ctx, "patient-1")
		require.NoError(t, err)
		require.NotNil(t, doc)

		hr, ok := doc[events.VitalHeartRate].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 72.0, hr["value"])
		assert.Equal(t, "bpm", hr["unit"])
		assert.NotEmpty(t, doc["updated_at"])
	})

	t.Run("should return nil for an unknown patient", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)

		doc, err := store.LastVitals(ctx, "nobody")

		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("should overwrite the previous snapshot", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)

		require.NoError(t, store.UpdateLastVitals(ctx, "patient-1", events.Vitals{
			events.VitalHeartRate: hrReading(72),
		}))
		require.NoError(t, store.UpdateLastVitals(ctx, "patient-1", events.Vitals{
			events.VitalHeartRate: hrReading(95),
		}))

		doc, err := store.LastVitals(ctx, "patient-1")
		require.NoError(t, err)
		hr := doc[events.VitalHeartRate].(map[string]interface{})
		assert.Equal(t, 95.0, hr["value"])
	})
}

func TestRollingWindows(t *testing.T) {
	ctx := context.Background()
	window := 15 * time.Minute

	t.Run("should compute count, average, min and max", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)
		now := time.Now()

		for i, v := range []float64{70, 72, 74} {
			err := store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, v, now.Add(time.Duration(i)*time.Second), window)
			require.NoError(t, err)
		}

		stats, err := store.RollingStats(ctx, "patient-1", events.VitalHeartRate, window)
		require.NoError(t, err)

		assert.Equal(t, 3, stats.Count)
		require.NotNil(t, stats.Average)
		assert.InDelta(t, 72.0, *stats.Average, 1e-9)
		assert.Equal(t, 70.0, *stats.Min)
		assert.Equal(t, 74.0, *stats.Max)
	})

	t.Run("should keep duplicate values at different times distinct", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)
		now := time.Now()

		require.NoError(t, store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, 70, now.Add(-time.Second), window))
		require.NoError(t, store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, 70, now, window))

		stats, err := store.RollingStats(ctx, "patient-1", events.VitalHeartRate, window)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Count)
	})

	t.Run("should trim samples older than the window on insert", func(t *testing.T) {
		store, client, _ := newTestStore(t, 0)
		now := time.Now()

		require.NoError(t, store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, 70, now.Add(-20*time.Minute), window))
		require.NoError(t, store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, 74, now, window))

		size, err := client.ZCard(ctx, "patient:patient-1:heart_rate:900s").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), size)

		stats, err := store.RollingStats(ctx, "patient-1", events.VitalHeartRate, window)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Count)
		assert.Equal(t, 74.0, *stats.Average)
	})

	t.Run("should exclude stale samples from reads regardless of trimming", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)
		now := time.Now()

		// Inserted but outside the window relative to the read time
		require.NoError(t, store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, 70, now.Add(-16*time.Minute), window))

		stats, err := store.RollingStats(ctx, "patient-1", events.VitalHeartRate, window)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Count)
	})

	t.Run("should return null aggregate fields for an empty window", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)

		stats, err := store.RollingStats(ctx, "patient-1", events.VitalHeartRate, window)
		require.NoError(t, err)

		assert.Equal(t, 0, stats.Count)
		assert.Nil(t, stats.Average)
		assert.Nil(t, stats.Min)
		assert.Nil(t, stats.Max)
	})

	t.Run("should skip unreadable members", func(t *testing.T) {
		store, client, _ := newTestStore(t, 0)
		now := time.Now()

		require.NoError(t, client.ZAdd(ctx, "patient:patient-1:heart_rate:900s", redis.Z{
			Score:  float64(now.Unix()),
			Member: "garbage",
		}).Err())
		require.NoError(t, store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, 70, now, window))

		stats, err := store.RollingStats(ctx, "patient-1", events.VitalHeartRate, window)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Count)
	})

	t.Run("should expire idle windows", func(t *testing.T) {
		store, _, mr := newTestStore(t, 0)

		require.NoError(t, store.AddVitalSample(ctx, "patient-1", events.VitalHeartRate, 70, time.Now(), window))

		assert.Equal(t, window+60*time.Second, mr.TTL("patient:patient-1:heart_rate:900s"))
	})
}

func TestAlertCounters(t *testing.T) {
	ctx := context.Background()

	t.Run("should count alerts per bucket and severity", func(t *testing.T) {
		store, _, _ := newTestStore(t, time.Minute)
		now := time.Now()

		for i := 0; i < 3; i++ {
			require.NoError(t, store.IncrementAlertCount(ctx, events.SeverityCritical, now))
		}
		require.NoError(t, store.IncrementAlertCount(ctx, events.SeverityLow, now))

		counts, err := store.AlertsPerMinute(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3, counts[events.SeverityCritical])
		assert.Equal(t, 1, counts[events.SeverityLow])
		assert.Equal(t, 0, counts[events.SeverityMedium])
		assert.Equal(t, 0, counts[events.SeverityHigh])
	})

	t.Run("should fall back to the previous bucket", func(t *testing.T) {
		// Hour-sized buckets keep the test clear of boundary rollovers
		store, _, _ := newTestStore(t, time.Hour)

		require.NoError(t, store.IncrementAlertCount(ctx, events.SeverityHigh, time.Now().Add(-time.Hour)))

		counts, err := store.AlertsPerMinute(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[events.SeverityHigh])
	})

	t.Run("should record warning alerts without reporting them", func(t *testing.T) {
		store, _, mr := newTestStore(t, time.Minute)
		now := time.Now()

		require.NoError(t, store.IncrementAlertCount(ctx, events.RuleSeverityWarning, now))

		key := "alerts:global:warning:" + now.UTC().Truncate(time.Minute).Format(time.RFC3339)
		assert.True(t, mr.Exists(key))

		counts, err := store.AlertsPerMinute(ctx)
		require.NoError(t, err)
		assert.NotContains(t, counts, events.RuleSeverityWarning)
		assert.Len(t, counts, 4)
	})

	t.Run("should expire counters after two buckets", func(t *testing.T) {
		store, _, mr := newTestStore(t, time.Minute)
		now := time.Now()

		require.NoError(t, store.IncrementAlertCount(ctx, events.SeverityCritical, now))

		key := "alerts:global:critical:" + now.UTC().Truncate(time.Minute).Format(time.RFC3339)
		assert.Equal(t, 2*time.Minute, mr.TTL(key))
	})
}
