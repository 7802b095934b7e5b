package normalizer_test

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/vitalflow/internal/normalizer"
	"github.com/terminal-bench/vitalflow/shared/events"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func measurement(metric string, value float64, unit string) events.Measurement {
	return events.Measurement{Metric: metric, Value: &value, Unit: unit}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"rfc3339 with offset", `"2024-05-04T10:30:00+02:00"`, "2024-05-04T08:30:00Z", true},
		{"rfc3339 utc with fraction", `"2024-05-04T10:30:00.123Z"`, "2024-05-04T10:30:00.123Z", true},
		{"naive local time treated as utc", `"2024-05-04T10:30:00"`, "2024-05-04T10:30:00Z", true},
		{"numeric unix seconds", `1700000000`, "2023-11-14T22:13:20Z", true},
		{"numeric unix seconds with fraction", `1700000000.5`, "2023-11-14T22:13:20.5Z", true},
		{"numeric string", `"1700000000"`, "2023-11-14T22:13:20Z", true},
		{"small numbers read as milliseconds", `900000000`, "1970-01-11T10:00:00Z", true},
		{"garbage string", `"not-a-time"`, "", false},
		{"empty", ``, "", false},
	}

	for _, tc := range cases {
		t.Run("should parse "+tc.name, func(t *testing.T) {
			got, ok := normalizer.ParseTimestamp(json.RawMessage(tc.raw))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestCanonicalMetric(t *testing.T) {
	t.Run("should map aliases to canonical names", func(t *testing.T) {
		cases := map[string]string{
			"hr":        events.VitalHeartRate,
			"HR":        events.VitalHeartRate,
			"heartrate": events.VitalHeartRate,
			"pulse":     events.VitalHeartRate,
			"spo2":      events.VitalOxygenSaturation,
			"o2sat":     events.VitalOxygenSaturation,
			"o2":        events.VitalOxygenSaturation,
			"temp":      events.VitalTemperature,
			"body_temp": events.VitalTemperature,
			"bp":        events.VitalBloodPressure,
			"systolic":  events.VitalSystolicPressure,
			"diastolic": events.VitalDiastolicPressure,
			"rr":        events.VitalRespiratoryRate,
			" Pulse ":   events.VitalHeartRate,
		}

		for alias, want := range cases {
			assert.Equal(t, want, normalizer.CanonicalMetric(alias), "alias %q", alias)
		}
	})

	t.Run("should lower-case unknown metrics", func(t *testing.T) {
		assert.Equal(t, "glucose", normalizer.CanonicalMetric(" Glucose "))
	})
}

func TestNormalize(t *testing.T) {
	n := normalizer.New(normalizer.DefaultLimits(), nil, testLogger())

	t.Run("should map aliases and apply default units", func(t *testing.T) {
		raw := &events.RawEvent{
			EventID:   "evt_raw-1",
			TraceID:   "trace_abc",
			Timestamp: json.RawMessage(`"2024-05-04T10:30:00Z"`),
			DeviceID:  "dev-1",
			Measurements: []events.Measurement{
				measurement("HR", 72, ""),
				measurement("o2sat", 98, ""),
				measurement("body_temp", 36.6, ""),
			},
		}

		out := n.Normalize(raw)

		require.Len(t, out.Vitals, 3)
		hr := out.Vitals[events.VitalHeartRate]
		require.NotNil(t, hr.Value)
		assert.Equal(t, 72.0, *hr.Value)
		assert.Equal(t, "bpm", hr.Unit)
		assert.Equal(t, "2024-05-04T10:30:00Z", hr.Timestamp)

		spo2 := out.Vitals[events.VitalOxygenSaturation]
		assert.Equal(t, "percent", spo2.Unit)

		temp := out.Vitals[events.VitalTemperature]
		assert.Equal(t, "celsius", temp.Unit)

		assert.Equal(t, events.ValidationValid, out.ValidationStatus)
		assert.Empty(t, out.Normalization.Warnings)
	})

	t.Run("should keep device-supplied units", func(t *testing.T) {
		raw := &events.RawEvent{
			DeviceID:     "dev-1",
			Timestamp:    json.RawMessage(`"2024-05-04T10:30:00Z"`),
			Measurements: []events.Measurement{measurement("temp", 98.6, "fahrenheit")},
		}

		out := n.Normalize(raw)

		assert.Equal(t, "fahrenheit", out.Vitals[events.VitalTemperature].Unit)
	})

	t.Run("should clamp out-of-range readings and mark warning", func(t *testing.T) {
		raw := &events.RawEvent{
			DeviceID:  "dev-1",
			Timestamp: json.RawMessage(`"2024-05-04T10:30:00Z"`),
			Measurements: []events.Measurement{
				measurement("hr", 300, ""),
				measurement("spo2", 120, ""),
				measurement("temp", 10, ""),
			},
		}

		out := n.Normalize(raw)

		hr, _ := out.Vitals[events.VitalHeartRate].Float()
		assert.Equal(t, 240.0, hr)
		spo2, _ := out.Vitals[events.VitalOxygenSaturation].Float()
		assert.Equal(t, 100.0, spo2)
		temp, _ := out.Vitals[events.VitalTemperature].Float()
		assert.Equal(t, 30.0, temp)

		assert.Equal(t, events.ValidationWarning, out.ValidationStatus)
		assert.Contains(t, out.Normalization.Warnings, "Heart rate clamped from 300 to 240 bpm")
		assert.Contains(t, out.Normalization.Warnings, "SpO2 clamped from 120 to 100%")
		assert.Contains(t, out.Normalization.Warnings, "Temperature clamped from 10 to 30°C")
	})

	t.Run("should merge systolic and diastolic into blood pressure", func(t *testing.T) {
		raw := &events.RawEvent{
			DeviceID:  "dev-1",
			Timestamp: json.RawMessage(`"2024-05-04T10:30:00Z"`),
			Measurements: []events.Measurement{
				measurement("systolic", 120, ""),
				measurement("diastolic", 80, ""),
			},
		}

		out := n.Normalize(raw)

		require.Len(t, out.Vitals, 1)
		bp := out.Vitals[events.VitalBloodPressure]
		assert.Nil(t, bp.Value)
		require.NotNil(t, bp.Systolic)
		require.NotNil(t, bp.Diastolic)
		assert.Equal(t, 120.0, *bp.Systolic)
		assert.Equal(t, 80.0, *bp.Diastolic)
		assert.Equal(t, "mmHg", bp.Unit)
	})

	t.Run("should skip measurements without a value or name", func(t *testing.T) {
		raw := &events.RawEvent{
			DeviceID:  "dev-1",
			Timestamp: json.RawMessage(`"2024-05-04T10:30:00Z"`),
			Measurements: []events.Measurement{
				{Metric: "hr", Value: nil},
				{Metric: "", Value: events.Float(42)},
			},
		}

		out := n.Normalize(raw)

		assert.Empty(t, out.Vitals)
		assert.Equal(t, events.ValidationValid, out.ValidationStatus)
	})

	t.Run("should pass unknown metrics through lower-cased", func(t *testing.T) {
		raw := &events.RawEvent{
			DeviceID:     "dev-1",
			Timestamp:    json.RawMessage(`"2024-05-04T10:30:00Z"`),
			Measurements: []events.Measurement{measurement("Glucose", 5.4, "mmol/L")},
		}

		out := n.Normalize(raw)

		reading, ok := out.Vitals["glucose"]
		require.True(t, ok)
		value, _ := reading.Float()
		assert.Equal(t, 5.4, value)
		assert.Equal(t, "mmol/L", reading.Unit)
	})

	t.Run("should fall back to current time for a bad timestamp", func(t *testing.T) {
		raw := &events.RawEvent{
			DeviceID:     "dev-1",
			Timestamp:    json.RawMessage(`"garbage"`),
			Measurements: []events.Measurement{measurement("hr", 70, "")},
		}

		out := n.Normalize(raw)

		parsed, err := events.ParseTimestamp(out.Timestamp)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), parsed, 5*time.Second)
		// Timestamp fallback is logged, not a validation warning
		assert.Equal(t, events.ValidationValid, out.ValidationStatus)
	})

	t.Run("should keep the envelope chain intact", func(t *testing.T) {
		raw := &events.RawEvent{
			EventID:      "evt_raw-7",
			TraceID:      "trace_xyz",
			Timestamp:    json.RawMessage(`"2024-05-04T10:30:00Z"`),
			DeviceID:     "dev-1",
			Measurements: []events.Measurement{measurement("hr", 70, "")},
		}

		out := n.Normalize(raw)

		assert.Equal(t, events.TelemetryNormalized, out.EventType)
		assert.Equal(t, "evt_raw-7", out.SourceEventID)
		assert.Equal(t, "trace_xyz", out.TraceID)
		assert.NotEqual(t, raw.EventID, out.EventID)
		assert.Equal(t, "2024-05-04T10:30:00Z", out.Timestamp)
		assert.Equal(t, events.SchemaVersion, out.Version)
	})
}

func TestPatientResolution(t *testing.T) {
	n := normalizer.New(normalizer.DefaultLimits(), nil, testLogger())

	base := func() *events.RawEvent {
		return &events.RawEvent{
			DeviceID:     "dev-1",
			Timestamp:    json.RawMessage(`"2024-05-04T10:30:00Z"`),
			Measurements: []events.Measurement{measurement("hr", 70, "")},
		}
	}

	t.Run("should prefer the metadata binding", func(t *testing.T) {
		raw := base()
		raw.PatientID = "patient-field"
		raw.Metadata = map[string]any{"patient_id": "patient-meta"}

		assert.Equal(t, "patient-meta", n.Normalize(raw).PatientID)
	})

	t.Run("should use the top-level field next", func(t *testing.T) {
		raw := base()
		raw.PatientID = "patient-field"

		assert.Equal(t, "patient-field", n.Normalize(raw).PatientID)
	})

	t.Run("should synthesize an id from the device", func(t *testing.T) {
		raw := base()

		assert.Equal(t, "patient_from_dev-1", n.Normalize(raw).PatientID)
	})

	t.Run("should synthesize an id when the device is missing too", func(t *testing.T) {
		raw := base()
		raw.DeviceID = ""

		assert.Equal(t, "patient_from_unknown", n.Normalize(raw).PatientID)
	})

	t.Run("should ignore empty metadata bindings", func(t *testing.T) {
		raw := base()
		raw.Metadata = map[string]any{"patient_id": ""}
		raw.PatientID = "patient-field"

		assert.Equal(t, "patient-field", n.Normalize(raw).PatientID)
	})
}
