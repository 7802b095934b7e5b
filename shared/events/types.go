package events

import "encoding/json"

// Canonical vital names produced by normalisation
const (
	VitalHeartRate         = "heart_rate"
	VitalOxygenSaturation  = "oxygen_saturation"
	VitalTemperature       = "temperature"
	VitalBloodPressure     = "blood_pressure"
	VitalRespiratoryRate   = "respiratory_rate"
	VitalSystolicPressure  = "systolic_pressure"
	VitalDiastolicPressure = "diastolic_pressure"
)

// Severity bands for anomaly scores, lowest to highest
const (
	SeverityNormal   = "normal"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Rule severities carried by alert events
const (
	RuleSeverityOK       = "OK"
	RuleSeverityWarning  = "warning"
	RuleSeverityCritical = "critical"
)

// Alert types
const (
	AlertTypeVitalSign         = "vital_sign_anomaly"
	AlertTypeMultiVital        = "multi_vital_anomaly"
	AlertTypeCriticalCondition = "critical_condition"
)

// Validation statuses on normalised events
const (
	ValidationValid   = "valid"
	ValidationWarning = "warning"
)

// Measurement is one sample as sent by a device.
type Measurement struct {
	Metric string   `json:"metric"`
	Value  *float64 `json:"value"`
	Unit   string   `json:"unit,omitempty"`
}

// RawEvent is the permissive ingress shape. Device firmware varies, so
// envelope fields may be absent and the timestamp arrives in whatever
// format the device produces; the normalizer parses it leniently.
type RawEvent struct {
	EventID      string          `json:"event_id,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
	EventType    string          `json:"event_type,omitempty"`
	Version      string          `json:"version,omitempty"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
	DeviceID     string          `json:"device_id"`
	PatientID    string          `json:"patient_id,omitempty"`
	Measurements []Measurement   `json:"measurements"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// Envelope returns the identity fields of the raw event for deriving
// child envelopes. The permissive timestamp is left for the normalizer.
func (r *RawEvent) Envelope() Envelope {
	return Envelope{
		EventID:   r.EventID,
		TraceID:   r.TraceID,
		EventType: TelemetryRaw,
		Version:   r.Version,
	}
}

// VitalReading is a single normalised vital sign. Blood pressure readings
// carry Systolic/Diastolic and leave Value unset.
type VitalReading struct {
	Value     *float64 `json:"value,omitempty"`
	Systolic  *float64 `json:"systolic,omitempty"`
	Diastolic *float64 `json:"diastolic,omitempty"`
	Unit      string   `json:"unit"`
	Timestamp string   `json:"timestamp"`
}

// Float returns the scalar value when present.
func (v VitalReading) Float() (float64, bool) {
	if v.Value == nil {
		return 0, false
	}
	return *v.Value, true
}

// Vitals maps canonical vital names to readings.
type Vitals map[string]VitalReading

// NormalizationMetadata records how a raw event was normalised.
type NormalizationMetadata struct {
	NormalizedAt string   `json:"normalized_at"`
	RulesVersion string   `json:"rules_version"`
	Warnings     []string `json:"warnings,omitempty"`
}

// NormalizedEvent is the output of the normalizer stage.
type NormalizedEvent struct {
	Envelope
	DeviceID         string                `json:"device_id"`
	PatientID        string                `json:"patient_id"`
	Vitals           Vitals                `json:"vitals"`
	ValidationStatus string                `json:"validation_status"`
	Normalization    NormalizationMetadata `json:"normalization_metadata"`
}

// Thresholds is a per-patient clinical threshold profile from the registry.
type Thresholds struct {
	HRMin   *float64 `json:"hr_min,omitempty"`
	HRMax   *float64 `json:"hr_max,omitempty"`
	SpO2Min *float64 `json:"spo2_min,omitempty"`
	TempMin *float64 `json:"temp_min,omitempty"`
	TempMax *float64 `json:"temp_max,omitempty"`
}

// PatientContext is registry-sourced context attached by the enricher.
type PatientContext struct {
	PatientID         string      `json:"patient_id,omitempty"`
	FullName          string      `json:"full_name,omitempty"`
	Age               *int        `json:"age,omitempty"`
	Sex               string      `json:"sex,omitempty"`
	MedicalConditions []string    `json:"medical_conditions,omitempty"`
	Medications       []string    `json:"medications,omitempty"`
	Thresholds        *Thresholds `json:"thresholds,omitempty"`
}

// EnrichedEvent is a normalised event with optional patient context.
// Enrichment is best-effort: the context is nil when the registry had no
// answer, and all other fields pass through unchanged.
type EnrichedEvent struct {
	Envelope
	DeviceID         string                 `json:"device_id"`
	PatientID        string                 `json:"patient_id"`
	Vitals           Vitals                 `json:"vitals"`
	ValidationStatus string                 `json:"validation_status,omitempty"`
	Normalization    *NormalizationMetadata `json:"normalization_metadata,omitempty"`
	PatientContext   *PatientContext        `json:"patient_context,omitempty"`
}

// AnomalyScore is the per-vital scorer output.
type AnomalyScore struct {
	Score        float64  `json:"score"`
	Severity     string   `json:"severity"`
	ModelVersion string   `json:"model_version,omitempty"`
	Factors      []string `json:"factors,omitempty"`
}

// OverallRiskScore is the fused score across vitals.
type OverallRiskScore struct {
	Score             float64 `json:"score"`
	Severity          string  `json:"severity"`
	AggregationMethod string  `json:"aggregation_method"`
}

// ScoringMetadata records which engine scored an event and when.
type ScoringMetadata struct {
	ScoredAt             string `json:"scored_at"`
	ScoringEngine        string `json:"scoring_engine"`
	ScoringEngineVersion string `json:"scoring_engine_version"`
	ProcessingTimeMs     int64  `json:"processing_time_ms"`
}

// ScoredEvent is an enriched event plus anomaly scores.
type ScoredEvent struct {
	Envelope
	DeviceID      string                  `json:"device_id"`
	PatientID     string                  `json:"patient_id"`
	Vitals        Vitals                  `json:"vitals"`
	AnomalyScores map[string]AnomalyScore `json:"anomaly_scores"`
	OverallRisk   OverallRiskScore        `json:"overall_risk_score"`
	Scoring       ScoringMetadata         `json:"scoring_metadata"`
}

// AlertCondition describes what tripped an alert.
type AlertCondition struct {
	Description  string  `json:"description"`
	VitalSign    string  `json:"vital_sign"`
	AnomalyScore float64 `json:"anomaly_score"`
}

// AlertDetails carries the triggering measurements and rule ids. The
// camelCase keys are part of the wire format.
type AlertDetails struct {
	Metrics        Vitals   `json:"metrics"`
	RulesTriggered []string `json:"rulesTriggered"`
	AnomalyScore   float64  `json:"anomalyScore"`
}

// AlertMetadata carries alert bookkeeping fields.
type AlertMetadata struct {
	RaisedBy     string `json:"raised_by"`
	RuleVersion  string `json:"rule_version"`
	Acknowledged bool   `json:"acknowledged"`
	Resolved     bool   `json:"resolved"`
}

// AlertPatientContext is the patient context subset forwarded on alerts.
type AlertPatientContext struct {
	Age                *int     `json:"age,omitempty"`
	MedicalConditions  []string `json:"medical_conditions"`
	CurrentMedications []string `json:"current_medications"`
}

// AlertEvent is raised when rule evaluation yields warning or critical.
// Never emitted when the overall rule severity is OK.
type AlertEvent struct {
	Envelope
	PatientID      string               `json:"patient_id"`
	DeviceID       string               `json:"device_id"`
	AlertType      string               `json:"alert_type"`
	Severity       string               `json:"severity"`
	Condition      AlertCondition       `json:"condition"`
	Details        AlertDetails         `json:"details"`
	AlertMetadata  AlertMetadata        `json:"alert_metadata"`
	PatientContext *AlertPatientContext `json:"patient_context,omitempty"`
}

// Decode unmarshals a JSON message into T. Consumers parse strictly and
// skip messages that do not decode.
func Decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Encode marshals an event for the wire.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Float returns a pointer to v, for building readings in place.
func Float(v float64) *float64 {
	return &v
}
