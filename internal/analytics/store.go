package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/vitalflow/shared/events"
)

// DefaultAlertWindow is the bucket size for the global alert counters.
const DefaultAlertWindow = time.Minute

// reportedSeverities is the severity set exposed by the alerts-per-minute
// endpoint.
var reportedSeverities = []string{
	events.SeverityLow,
	events.SeverityMedium,
	events.SeverityHigh,
	events.SeverityCritical,
}

// VitalStats summarises one vital over a rolling window. Average, Min and
// Max are null when the window is empty.
type VitalStats struct {
	Count   int      `json:"count"`
	Average *float64 `json:"average"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
}

// Store maintains the analytics aggregates in Redis: per-patient last
// vitals, rolling vital windows as sorted sets scored by sample time, and
// bucketed global alert counters.
type Store struct {
	client      *redis.Client
	alertWindow time.Duration
}

// NewStore wraps a connected Redis client. alertWindow sets the alert
// counter bucket size, default one minute.
func NewStore(client *redis.Client, alertWindow time.Duration) *Store {
	if alertWindow <= 0 {
		alertWindow = DefaultAlertWindow
	}
	return &Store{client: client, alertWindow: alertWindow}
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func lastVitalsKey(patientID string) string {
	return fmt.Sprintf("patient:%s:last_vitals", patientID)
}

func windowKey(patientID, vitalType string, window time.Duration) string {
	return fmt.Sprintf("patient:%s:%s:%ds", patientID, vitalType, int(window.Seconds()))
}

func alertCountKey(severity string, bucket time.Time) string {
	return fmt.Sprintf("alerts:global:%s:%s", severity, bucket.Format(time.RFC3339))
}

// UpdateLastVitals replaces the latest-vitals snapshot for a patient. The
// stored document is the vitals map plus an updated_at stamp.
func (s *Store) UpdateLastVitals(ctx context.Context, patientID string, vitals events.Vitals) error {
	doc := make(map[string]interface{}, len(vitals)+1)
	for name, reading := range vitals {
		doc[name] = reading
	}
	doc["updated_at"] = events.Now()

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, lastVitalsKey(patientID), data, 0).Err()
}

// LastVitals returns the latest-vitals snapshot, or nil when the patient
// has no recorded vitals.
func (s *Store) LastVitals(ctx context.Context, patientID string) (map[string]interface{}, error) {
	data, err := s.client.Get(ctx, lastVitalsKey(patientID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// AddVitalSample records one sample in a rolling window. Members carry a
// nanosecond suffix so equal values at different times stay distinct, and
// entries older than the window are trimmed on every insert.
func (s *Store) AddVitalSample(ctx context.Context, patientID, vitalType string, value float64, ts time.Time, window time.Duration) error {
	key := windowKey(patientID, vitalType, window)
	member := fmt.Sprintf("%s:%d", strconv.FormatFloat(value, 'g', -1, 64), ts.UnixNano())
	cutoff := unixSeconds(ts.Add(-window))

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: unixSeconds(ts), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', -1, 64))
	pipe.Expire(ctx, key, window+60*time.Second)
	_, err := pipe.Exec(ctx)
	return err
}

// RollingStats computes count, average, min and max over the samples still
// inside the window.
func (s *Store) RollingStats(ctx context.Context, patientID, vitalType string, window time.Duration) (VitalStats, error) {
	key := windowKey(patientID, vitalType, window)
	now := time.Now()

	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(unixSeconds(now.Add(-window)), 'f', -1, 64),
		Max: strconv.FormatFloat(unixSeconds(now), 'f', -1, 64),
	}).Result()
	if err != nil {
		return VitalStats{}, err
	}

	var (
		count      int
		sum        float64
		minV, maxV float64
	)
	for _, member := range members {
		raw, _, _ := strings.Cut(member, ":")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if count == 0 || value < minV {
			minV = value
		}
		if count == 0 || value > maxV {
			maxV = value
		}
		sum += value
		count++
	}

	if count == 0 {
		return VitalStats{}, nil
	}
	avg := sum / float64(count)
	return VitalStats{Count: count, Average: &avg, Min: &minV, Max: &maxV}, nil
}

// IncrementAlertCount bumps the bucketed counter for a severity. Counters
// live for two buckets so reads can fall back across a boundary.
func (s *Store) IncrementAlertCount(ctx context.Context, severity string, ts time.Time) error {
	key := alertCountKey(severity, ts.UTC().Truncate(s.alertWindow))

	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*s.alertWindow)
	_, err := pipe.Exec(ctx)
	return err
}

// AlertsPerMinute reports the alert rate per severity, preferring the
// current bucket and falling back to the previous one so a fresh bucket
// boundary does not read as silence.
func (s *Store) AlertsPerMinute(ctx context.Context) (map[string]int, error) {
	now := time.Now().UTC().Truncate(s.alertWindow)
	prev := now.Add(-s.alertWindow)

	counts := make(map[string]int, len(reportedSeverities))
	for _, severity := range reportedSeverities {
		count, err := s.bucketCount(ctx, severity, now)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			if count, err = s.bucketCount(ctx, severity, prev); err != nil {
				return nil, err
			}
		}
		counts[severity] = count
	}
	return counts, nil
}

func (s *Store) bucketCount(ctx context.Context, severity string, bucket time.Time) (int, error) {
	val, err := s.client.Get(ctx, alertCountKey(severity, bucket)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
