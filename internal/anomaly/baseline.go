package anomaly

import (
	"context"
	"math"
	"sync"
)

// DefaultWindowSize bounds how many recent samples a baseline keeps.
const DefaultWindowSize = 100

// Sample is one observed vital value.
type Sample struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// Stats summarizes one patient's baseline window for a vital.
type Stats struct {
	Mean   float64
	StdDev float64
	Count  int
}

// BaselineStore keeps per-patient rolling windows of recent vital
// observations.
type BaselineStore interface {
	// Append records a sample, evicting the oldest once the window is
	// full.
	Append(ctx context.Context, patientID, vitalType string, sample Sample) error
	// Stats returns mean, sample standard deviation and count over the
	// current window. An empty window yields zero stats, not an error.
	Stats(ctx context.Context, patientID, vitalType string) (Stats, error)
}

// MemoryStore keeps baselines in process memory. State is lost on
// restart, which matches the cold-start behavior of a fresh deployment.
type MemoryStore struct {
	windowSize int

	mu      sync.RWMutex
	windows map[string]map[string][]Sample // patientID -> vitalType -> samples
}

// NewMemoryStore creates an in-memory baseline store.
func NewMemoryStore(windowSize int) *MemoryStore {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &MemoryStore{
		windowSize: windowSize,
		windows:    make(map[string]map[string][]Sample),
	}
}

// Append implements BaselineStore.
func (s *MemoryStore) Append(ctx context.Context, patientID, vitalType string, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.windows[patientID] == nil {
		s.windows[patientID] = make(map[string][]Sample)
	}

	window := append(s.windows[patientID][vitalType], sample)
	if len(window) > s.windowSize {
		window = window[len(window)-s.windowSize:]
	}
	s.windows[patientID][vitalType] = window

	return nil
}

// Stats implements BaselineStore.
func (s *MemoryStore) Stats(ctx context.Context, patientID, vitalType string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return computeStats(s.windows[patientID][vitalType]), nil
}

// computeStats returns mean and sample standard deviation (n-1) over
// the window.
func computeStats(samples []Sample) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	var sum float64
	for _, sample := range samples {
		sum += sample.Value
	}
	mean := sum / float64(n)

	if n < 2 {
		return Stats{Mean: mean, Count: n}
	}

	var sq float64
	for _, sample := range samples {
		d := sample.Value - mean
		sq += d * d
	}

	return Stats{
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(n-1)),
		Count:  n,
	}
}
