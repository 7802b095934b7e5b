package events

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes per identifier kind. The payload after the prefix is five
// hex groups in the 8-4-4-4-12 layout.
const (
	eventIDPrefix = "evt_"
	alertIDPrefix = "alert_"
	traceIDPrefix = "trace_"
)

// NewEventID mints a fresh event identifier. Safe for concurrent use.
func NewEventID() string {
	return eventIDPrefix + uuid.NewString()
}

// NewAlertID mints a fresh alert identifier.
func NewAlertID() string {
	return alertIDPrefix + uuid.NewString()
}

// NewTraceID mints a fresh trace identifier. Minted once at ingress and
// propagated unchanged through every downstream event.
func NewTraceID() string {
	return traceIDPrefix + uuid.NewString()
}

// IsTraceID reports whether s carries the trace prefix and a well-formed
// hex-group body.
func IsTraceID(s string) bool {
	body, ok := strings.CutPrefix(s, traceIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(body)
	return err == nil
}
