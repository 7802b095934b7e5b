package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// baselineTTL keeps idle patient baselines from accumulating forever.
const baselineTTL = 7 * 24 * time.Hour

// RedisStore persists baselines in Redis lists so windows survive
// restarts and are shared between scorer replicas.
type RedisStore struct {
	client     *redis.Client
	windowSize int
}

// NewRedisStore creates a Redis-backed baseline store.
func NewRedisStore(client *redis.Client, windowSize int) *RedisStore {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &RedisStore{client: client, windowSize: windowSize}
}

func baselineKey(patientID, vitalType string) string {
	return fmt.Sprintf("baseline:%s:%s", patientID, vitalType)
}

// Append implements BaselineStore. The newest sample goes to the head
// of the list and the tail is trimmed to the window size.
func (s *RedisStore) Append(ctx context.Context, patientID, vitalType string, sample Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline sample: %w", err)
	}

	key := baselineKey(patientID, vitalType)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(s.windowSize)-1)
	pipe.Expire(ctx, key, baselineTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append baseline sample: %w", err)
	}

	return nil
}

// Stats implements BaselineStore.
func (s *RedisStore) Stats(ctx context.Context, patientID, vitalType string) (Stats, error) {
	raw, err := s.client.LRange(ctx, baselineKey(patientID, vitalType), 0, int64(s.windowSize)-1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read baseline: %w", err)
	}

	samples := make([]Sample, 0, len(raw))
	for _, item := range raw {
		var sample Sample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			// Skip entries that predate the current sample format.
			continue
		}
		samples = append(samples, sample)
	}

	return computeStats(samples), nil
}
