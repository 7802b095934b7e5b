package events

import "time"

// Event types carried on the bus
const (
	TelemetryRaw        = "telemetry.raw"
	TelemetryNormalized = "telemetry.normalized"
	TelemetryEnriched   = "telemetry.enriched"
	TelemetryScored     = "telemetry.scored"
	AlertsRaised        = "alerts.raised"
)

// SchemaVersion is the wire-format version stamped on events that do not
// inherit one from their parent.
const SchemaVersion = "1.0.0"

// Envelope contains the identity fields shared by every message on every
// topic. Timestamps are RFC 3339 UTC with a Z suffix.
type Envelope struct {
	EventID       string `json:"event_id"`
	TraceID       string `json:"trace_id"`
	EventType     string `json:"event_type"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	SourceEventID string `json:"source_event_id,omitempty"`
}

// NewEnvelope derives a child envelope from its parent: a fresh event id,
// the parent's trace id (minted here if the parent arrived without one),
// and the parent's event id as the source link. The parent's timestamp and
// version carry over; stages that re-time events overwrite Timestamp.
func NewEnvelope(parent Envelope, eventType string) Envelope {
	id := NewEventID()
	if eventType == AlertsRaised {
		id = NewAlertID()
	}

	traceID := parent.TraceID
	if traceID == "" {
		traceID = NewTraceID()
	}

	version := parent.Version
	if version == "" {
		version = SchemaVersion
	}

	return Envelope{
		EventID:       id,
		TraceID:       traceID,
		EventType:     eventType,
		Version:       version,
		Timestamp:     parent.Timestamp,
		SourceEventID: parent.EventID,
	}
}

// FormatTimestamp renders t in the wire timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a wire timestamp previously produced by this
// module or any RFC 3339 source.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Now returns the current UTC time in the wire timestamp format.
func Now() string {
	return FormatTimestamp(time.Now())
}
