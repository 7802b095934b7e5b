package enricher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/internal/registry"
	"github.com/terminal-bench/vitalflow/shared/events"
)

// DefaultCacheTTL bounds how stale registry context may get. Device
// reassignments must show up within this window.
const DefaultCacheTTL = 5 * time.Minute

// syntheticPrefix marks patient ids minted by the normalizer for events
// that arrived without one. Registry bindings replace these.
const syntheticPrefix = "patient_from_"

type deviceEntry struct {
	device    *registry.Device // nil when the device is not registered
	fetchedAt time.Time
}

type contextEntry struct {
	context   *events.PatientContext // nil when the patient is unknown
	fetchedAt time.Time
}

// Enricher attaches registry-sourced patient context to normalized
// events. Lookups are best-effort: a missing or unreachable registry
// never blocks an event, it just passes through without context.
type Enricher struct {
	registry registry.Reader
	cacheTTL time.Duration
	log      *logrus.Entry

	mu       sync.Mutex
	devices  map[string]deviceEntry
	contexts map[string]contextEntry
}

// New builds an enricher over a registry reader.
func New(reader registry.Reader, cacheTTL time.Duration, log *logrus.Entry) *Enricher {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Enricher{
		registry: reader,
		cacheTTL: cacheTTL,
		log:      log,
		devices:  make(map[string]deviceEntry),
		contexts: make(map[string]contextEntry),
	}
}

// Enrich derives an enriched event from a normalized one. When the
// registry binds the device to a patient, that binding replaces a
// synthetic patient id; an explicit patient id from the device wins,
// since bedside reassignment may be ahead of the registry.
func (e *Enricher) Enrich(ctx context.Context, normalized *events.NormalizedEvent) *events.EnrichedEvent {
	patientID := normalized.PatientID

	if device := e.lookupDevice(ctx, normalized.DeviceID); device != nil && device.PatientID != "" {
		if patientID == "" || strings.HasPrefix(patientID, syntheticPrefix) {
			patientID = device.PatientID
			patientResolved.Inc()
		}
	}

	norm := normalized.Normalization
	enriched := &events.EnrichedEvent{
		Envelope:         events.NewEnvelope(normalized.Envelope, events.TelemetryEnriched),
		DeviceID:         normalized.DeviceID,
		PatientID:        patientID,
		Vitals:           normalized.Vitals,
		ValidationStatus: normalized.ValidationStatus,
		Normalization:    &norm,
	}

	enriched.PatientContext = e.lookupContext(ctx, patientID)
	return enriched
}

func (e *Enricher) lookupDevice(ctx context.Context, deviceID string) *registry.Device {
	if deviceID == "" {
		return nil
	}

	e.mu.Lock()
	entry, ok := e.devices[deviceID]
	e.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < e.cacheTTL {
		registryLookups.WithLabelValues("device", "hit").Inc()
		return entry.device
	}

	device, err := e.registry.GetDevice(ctx, deviceID)
	switch {
	case err == nil:
		registryLookups.WithLabelValues("device", "found").Inc()
	case errors.Is(err, registry.ErrNotFound):
		registryLookups.WithLabelValues("device", "not_found").Inc()
		device = nil
	default:
		// Transient failure: do not cache, retry on the next event.
		registryLookups.WithLabelValues("device", "error").Inc()
		e.log.WithError(err).WithField("device_id", deviceID).Warn("Device lookup failed")
		return nil
	}

	e.mu.Lock()
	e.devices[deviceID] = deviceEntry{device: device, fetchedAt: time.Now()}
	e.mu.Unlock()
	return device
}

func (e *Enricher) lookupContext(ctx context.Context, patientID string) *events.PatientContext {
	if patientID == "" || strings.HasPrefix(patientID, syntheticPrefix) {
		return nil
	}

	e.mu.Lock()
	entry, ok := e.contexts[patientID]
	e.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < e.cacheTTL {
		registryLookups.WithLabelValues("patient", "hit").Inc()
		return entry.context
	}

	pc, cacheable := e.fetchContext(ctx, patientID)
	if cacheable {
		e.mu.Lock()
		e.contexts[patientID] = contextEntry{context: pc, fetchedAt: time.Now()}
		e.mu.Unlock()
	}
	return pc
}

// fetchContext loads patient demographics and thresholds. The second
// return reports whether the result may be cached; transient registry
// errors are not.
func (e *Enricher) fetchContext(ctx context.Context, patientID string) (*events.PatientContext, bool) {
	patient, err := e.registry.GetPatient(ctx, patientID)
	if errors.Is(err, registry.ErrNotFound) {
		registryLookups.WithLabelValues("patient", "not_found").Inc()
		return nil, true
	}
	if err != nil {
		registryLookups.WithLabelValues("patient", "error").Inc()
		e.log.WithError(err).WithField("patient_id", patientID).Warn("Patient lookup failed, passing event through without context")
		return nil, false
	}
	registryLookups.WithLabelValues("patient", "found").Inc()

	age := patient.Age
	pc := &events.PatientContext{
		PatientID: patient.ID,
		FullName:  patient.FullName,
		Age:       &age,
		Sex:       patient.Sex,
	}

	profile, err := e.registry.GetThresholdProfile(ctx, patientID)
	switch {
	case err == nil:
		pc.Thresholds = &events.Thresholds{
			HRMin:   events.Float(profile.HRMin),
			HRMax:   events.Float(profile.HRMax),
			SpO2Min: events.Float(profile.SpO2Min),
			TempMin: events.Float(profile.TempMin),
			TempMax: events.Float(profile.TempMax),
		}
	case errors.Is(err, registry.ErrNotFound):
		// No profile is a valid state, demographics still attach.
	default:
		e.log.WithError(err).WithField("patient_id", patientID).Warn("Threshold profile lookup failed")
	}

	return pc, true
}
