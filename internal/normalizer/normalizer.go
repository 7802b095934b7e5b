package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/shared/events"
)

// rulesVersion is stamped into normalization_metadata.
const rulesVersion = "1.0.0"

// epoch2000 separates Unix-seconds from Unix-milliseconds readings:
// numeric timestamps below it are read as milliseconds.
const epoch2000 = 946684800

// naiveLayout accepts RFC 3339 local times without a zone offset, which
// some device firmware sends. Naive times are treated as UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// metricAliases maps device metric name variants to canonical names.
var metricAliases = map[string]string{
	"hr":                events.VitalHeartRate,
	"heartrate":         events.VitalHeartRate,
	"heart_rate":        events.VitalHeartRate,
	"pulse":             events.VitalHeartRate,
	"spo2":              events.VitalOxygenSaturation,
	"o2sat":             events.VitalOxygenSaturation,
	"oxygen_saturation": events.VitalOxygenSaturation,
	"o2":                events.VitalOxygenSaturation,
	"temp":              events.VitalTemperature,
	"temperature":       events.VitalTemperature,
	"body_temp":         events.VitalTemperature,
	"bp":                events.VitalBloodPressure,
	"blood_pressure":    events.VitalBloodPressure,
	"systolic":          events.VitalSystolicPressure,
	"diastolic":         events.VitalDiastolicPressure,
	"rr":                events.VitalRespiratoryRate,
	"respiratory_rate":  events.VitalRespiratoryRate,
	"respiration":       events.VitalRespiratoryRate,
}

// Limits are the clamp bounds applied to the clamped vitals.
type Limits struct {
	HRMin   float64
	HRMax   float64
	SpO2Min float64
	SpO2Max float64
	TempMin float64
	TempMax float64
}

// DefaultLimits returns the plausible-device bounds.
func DefaultLimits() Limits {
	return Limits{
		HRMin:   20,
		HRMax:   240,
		SpO2Min: 50,
		SpO2Max: 100,
		TempMin: 30,
		TempMax: 45,
	}
}

// PatientResolver maps a raw event to a patient id.
type PatientResolver interface {
	Resolve(raw *events.RawEvent) string
}

// metadataResolver is the default resolution chain: explicit metadata
// binding, then the top-level field, then a synthetic id derived from
// the device.
type metadataResolver struct{}

func (metadataResolver) Resolve(raw *events.RawEvent) string {
	if v, ok := raw.Metadata["patient_id"]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	if raw.PatientID != "" {
		return raw.PatientID
	}
	device := raw.DeviceID
	if device == "" {
		device = "unknown"
	}
	return "patient_from_" + device
}

// Normalizer turns raw device telemetry into canonical events.
type Normalizer struct {
	limits   Limits
	resolver PatientResolver
	log      *logrus.Entry
}

// New creates a normalizer. A nil resolver falls back to the metadata
// resolution chain.
func New(limits Limits, resolver PatientResolver, log *logrus.Entry) *Normalizer {
	if resolver == nil {
		resolver = metadataResolver{}
	}
	return &Normalizer{limits: limits, resolver: resolver, log: log}
}

// Normalize maps one raw event to its normalised form. It never fails:
// an unparseable timestamp falls back to the current time, measurements
// without a value or name are skipped, and unknown metrics pass through
// lower-cased.
func (n *Normalizer) Normalize(raw *events.RawEvent) *events.NormalizedEvent {
	timestamp, ok := ParseTimestamp(raw.Timestamp)
	if !ok {
		n.log.Warnf("Could not parse timestamp: %s, using current time", string(raw.Timestamp))
		timestamp = events.FormatTimestamp(time.Now())
	}

	vitals := make(events.Vitals, len(raw.Measurements))
	var warnings []string

	for _, m := range raw.Measurements {
		metric := CanonicalMetric(m.Metric)
		if metric == "" || m.Value == nil {
			continue
		}
		value := *m.Value

		switch metric {
		case events.VitalHeartRate:
			clamped := clamp(value, n.limits.HRMin, n.limits.HRMax)
			if clamped != value {
				warnings = append(warnings, fmt.Sprintf("Heart rate clamped from %g to %g bpm", value, clamped))
			}
			vitals[metric] = events.VitalReading{
				Value:     events.Float(clamped),
				Unit:      defaultUnit(m.Unit, "bpm"),
				Timestamp: timestamp,
			}

		case events.VitalOxygenSaturation:
			clamped := clamp(value, n.limits.SpO2Min, n.limits.SpO2Max)
			if clamped != value {
				warnings = append(warnings, fmt.Sprintf("SpO2 clamped from %g to %g%%", value, clamped))
			}
			vitals[metric] = events.VitalReading{
				Value:     events.Float(clamped),
				Unit:      defaultUnit(m.Unit, "percent"),
				Timestamp: timestamp,
			}

		case events.VitalTemperature:
			clamped := clamp(value, n.limits.TempMin, n.limits.TempMax)
			if clamped != value {
				warnings = append(warnings, fmt.Sprintf("Temperature clamped from %g to %g°C", value, clamped))
			}
			vitals[metric] = events.VitalReading{
				Value:     events.Float(clamped),
				Unit:      defaultUnit(m.Unit, "celsius"),
				Timestamp: timestamp,
			}

		case events.VitalSystolicPressure:
			bp, ok := vitals[events.VitalBloodPressure]
			if !ok {
				bp = events.VitalReading{Unit: "mmHg", Timestamp: timestamp}
			}
			bp.Systolic = events.Float(value)
			vitals[events.VitalBloodPressure] = bp

		case events.VitalDiastolicPressure:
			bp, ok := vitals[events.VitalBloodPressure]
			if !ok {
				bp = events.VitalReading{Unit: "mmHg", Timestamp: timestamp}
			}
			bp.Diastolic = events.Float(value)
			vitals[events.VitalBloodPressure] = bp

		case events.VitalRespiratoryRate:
			vitals[metric] = events.VitalReading{
				Value:     events.Float(value),
				Unit:      defaultUnit(m.Unit, "breaths_per_minute"),
				Timestamp: timestamp,
			}

		default:
			// Unknown metrics pass through so downstream consumers
			// still see them.
			vitals[metric] = events.VitalReading{
				Value:     events.Float(value),
				Unit:      m.Unit,
				Timestamp: timestamp,
			}
		}
	}

	status := events.ValidationValid
	if len(warnings) > 0 {
		status = events.ValidationWarning
		clampWarnings.Add(float64(len(warnings)))
	}

	envelope := events.NewEnvelope(raw.Envelope(), events.TelemetryNormalized)
	envelope.Timestamp = timestamp

	return &events.NormalizedEvent{
		Envelope:         envelope,
		DeviceID:         raw.DeviceID,
		PatientID:        n.resolver.Resolve(raw),
		Vitals:           vitals,
		ValidationStatus: status,
		Normalization: events.NormalizationMetadata{
			NormalizedAt: events.FormatTimestamp(time.Now()),
			RulesVersion: rulesVersion,
			Warnings:     warnings,
		},
	}
}

// CanonicalMetric resolves a device metric name against the alias
// table. Unknown names come back lower-cased and trimmed.
func CanonicalMetric(metric string) string {
	m := strings.ToLower(strings.TrimSpace(metric))
	if canonical, ok := metricAliases[m]; ok {
		return canonical
	}
	return m
}

// ParseTimestamp normalizes a device timestamp to RFC 3339 UTC. Strings
// are tried as RFC 3339 first, then as numeric Unix times. Numbers are
// Unix seconds when at or past the year-2000 epoch, milliseconds below
// it.
func ParseTimestamp(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return events.FormatTimestamp(t), true
		}
		if t, err := time.Parse(naiveLayout, s); err == nil {
			return events.FormatTimestamp(t), true
		}
		if ts, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(ts) && !math.IsInf(ts, 0) {
			return events.FormatTimestamp(fromUnix(ts)), true
		}
		return "", false
	}

	var ts float64
	if err := json.Unmarshal(raw, &ts); err == nil {
		return events.FormatTimestamp(fromUnix(ts)), true
	}

	return "", false
}

func fromUnix(ts float64) time.Time {
	if ts < epoch2000 {
		ts /= 1000
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}

func defaultUnit(unit, fallback string) string {
	if unit == "" {
		return fallback
	}
	return unit
}
