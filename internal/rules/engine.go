package rules

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/vitalflow/pkg/logging"
	"github.com/terminal-bench/vitalflow/shared/events"
)

// Thresholds configure the built-in rule set. Temperature thresholds
// are in Fahrenheit; readings are converted before comparison.
type Thresholds struct {
	HRMax      float64
	HRVeryHigh float64
	SpO2Min    float64
	SpO2Low    float64
	TempMaxF   float64
}

// DefaultThresholds returns the standard clinical limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HRMax:      100,
		HRVeryHigh: 120,
		SpO2Min:    95,
		SpO2Low:    90,
		TempMaxF:   100.4,
	}
}

// Result is one triggered rule.
type Result struct {
	RuleID   string
	Severity string
	Message  string
}

// Engine evaluates the clinical rule set over normalised vitals.
type Engine struct {
	thresholds Thresholds
	log        *logrus.Entry
}

// NewEngine creates a rule engine with the given thresholds.
func NewEngine(thresholds Thresholds, log *logrus.Entry) *Engine {
	return &Engine{
		thresholds: thresholds,
		log:        logging.Named(log, "engine"),
	}
}

// Evaluate runs every rule over the vitals. All comparisons are strict:
// a value exactly at a threshold does not trigger. The overall severity
// fuses triggered rules as critical > warning > OK.
func (e *Engine) Evaluate(vitals events.Vitals) (string, []Result) {
	var triggered []Result

	hr, hrOK := vitals[events.VitalHeartRate].Float()
	spo2, spo2OK := vitals[events.VitalOxygenSaturation].Float()
	temp, tempOK := vitals[events.VitalTemperature].Float()

	if hrOK && hr > e.thresholds.HRMax {
		triggered = append(triggered, Result{
			RuleID:   "hr_max_exceeded",
			Severity: events.RuleSeverityWarning,
			Message:  fmt.Sprintf("Heart rate %g exceeds maximum threshold %g", hr, e.thresholds.HRMax),
		})
		e.log.Infof("Rule triggered: HR %g > %g (warning)", hr, e.thresholds.HRMax)
	}

	if spo2OK && spo2 < e.thresholds.SpO2Min {
		triggered = append(triggered, Result{
			RuleID:   "spo2_min_below",
			Severity: events.RuleSeverityCritical,
			Message:  fmt.Sprintf("SpO2 %g below minimum threshold %g", spo2, e.thresholds.SpO2Min),
		})
		e.log.Warnf("Rule triggered: SpO2 %g < %g (critical)", spo2, e.thresholds.SpO2Min)
	}

	if tempOK {
		tempF := e.toFahrenheit(temp, vitals[events.VitalTemperature].Unit)
		if tempF > e.thresholds.TempMaxF {
			triggered = append(triggered, Result{
				RuleID:   "temp_max_exceeded",
				Severity: events.RuleSeverityWarning,
				Message:  fmt.Sprintf("Temperature %g°F exceeds maximum threshold %g°F", tempF, e.thresholds.TempMaxF),
			})
			e.log.Infof("Rule triggered: Temp %g°F > %g°F (warning)", tempF, e.thresholds.TempMaxF)
		}
	}

	if hrOK && spo2OK && hr > e.thresholds.HRVeryHigh && spo2 < e.thresholds.SpO2Low {
		triggered = append(triggered, Result{
			RuleID:   "hr_high_spo2_low_combined",
			Severity: events.RuleSeverityCritical,
			Message: fmt.Sprintf("Critical combination: Heart rate %g very high (> %g) AND SpO2 %g low (< %g)",
				hr, e.thresholds.HRVeryHigh, spo2, e.thresholds.SpO2Low),
		})
		e.log.Errorf("Combined rule triggered: HR %g > %g AND SpO2 %g < %g (critical)",
			hr, e.thresholds.HRVeryHigh, spo2, e.thresholds.SpO2Low)
	}

	return OverallSeverity(triggered), triggered
}

// toFahrenheit converts a temperature reading for threshold comparison.
// Celsius is checked before Fahrenheit; unknown units are logged and
// read as Fahrenheit.
func (e *Engine) toFahrenheit(value float64, unit string) float64 {
	u := strings.ToLower(unit)
	switch {
	case strings.Contains(u, "celsius") || u == "c":
		return value*9/5 + 32
	case strings.Contains(u, "fahrenheit") || u == "f":
		return value
	default:
		e.log.Warnf("Unknown temperature unit: %s, assuming Fahrenheit", unit)
		return value
	}
}

// OverallSeverity fuses triggered rule severities.
func OverallSeverity(triggered []Result) string {
	if len(triggered) == 0 {
		return events.RuleSeverityOK
	}
	for _, r := range triggered {
		if r.Severity == events.RuleSeverityCritical {
			return events.RuleSeverityCritical
		}
	}
	for _, r := range triggered {
		if r.Severity == events.RuleSeverityWarning {
			return events.RuleSeverityWarning
		}
	}
	return events.RuleSeverityOK
}
