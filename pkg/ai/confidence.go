package ai

import (
	"encoding/json"
	"strings"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// confidenceAnchors map verbal confidence grades to fixed values.
var confidenceAnchors = map[string]float64{
	"critical": 0.95,
	"high":     0.80,
	"medium":   0.60,
	"moderate": 0.60,
	"low":      0.35,
	"info":     0.50,
}

// severityFloors are the minimum confidence a finding of each severity
// carries after normalisation.
var severityFloors = map[models.Severity]float64{
	models.SeverityCritical: 0.80,
	models.SeverityHigh:     0.65,
	models.SeverityMedium:   0.45,
	models.SeverityLow:      0.25,
	models.SeverityInfo:     0.10,
}

// clampConfidence scales percentage-style values into [0,1] and clamps.
func clampConfidence(v float64) float64 {
	if v > 1 {
		v = v / 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeConfidence coerces whatever the model emitted — number,
// numeric string, percentage, fraction, or a verbal grade — into [0,1]
// and applies the severity floor.
func NormalizeConfidence(raw any, severity models.Severity) float64 {
	v := 0.5
	switch t := raw.(type) {
	case nil:
		// keep default
	case float64:
		v = t
	case int:
		v = float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			v = f
		}
	case string:
		if anchor, ok := confidenceAnchors[strings.ToLower(strings.TrimSpace(t))]; ok {
			v = anchor
		} else if f, ok := parseConfidenceString(t); ok {
			v = f
		}
	}

	v = clampConfidence(v)
	if floor, ok := severityFloors[severity]; ok && v < floor {
		v = floor
	}
	return v
}
