package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ThresholdAlert is raised by the server when a station metric crosses a
// configured threshold.
type ThresholdAlert struct {
	ID        string    `json:"id"`
	StationID int64     `json:"station_id"`
	Metric    string    `json:"metric"` // e.g. "temperature_c", "wind_speed_ms"
	Threshold float64   `json:"threshold"`
	Observed  float64   `json:"observed"`
	Severity  string    `json:"severity,omitempty"`
	Message   string    `json:"message,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`

	// ReceivedAt is stamped locally when the alert is parsed off the feed.
	ReceivedAt time.Time `json:"-"`
}

// ParseAlert deserializes a MESSAGE body into a ThresholdAlert, stamps
// ReceivedAt, and fills in a derived severity label when the server omitted one.
func ParseAlert(data []byte) (ThresholdAlert, error) {
	var a ThresholdAlert
	if err := json.Unmarshal(data, &a); err != nil {
		return ThresholdAlert{}, fmt.Errorf("parse alert: %w", err)
	}
	if a.ID == "" {
		return ThresholdAlert{}, fmt.Errorf("parse alert: missing id")
	}
	if a.Severity == "" {
		a.Severity = DeriveSeverity(a.Metric, a.Observed)
	}
	a.ReceivedAt = clock.Now().UTC()
	return a, nil
}

// DeriveSeverity maps an observed metric value to the four-level severity
// scale shared with the storm-data services. Returns "" for metrics without
// defined bands so callers can distinguish "unclassified" from "minor".
func DeriveSeverity(metric string, observed float64) string {
	switch metric {
	case "temperature_c":
		switch {
		case observed < 32:
			return SeverityMinor
		case observed < 38:
			return SeverityModerate
		case observed < 42:
			return SeveritySevere
		default:
			return SeverityExtreme
		}
	case "wind_speed_ms":
		switch {
		case observed < 17:
			return SeverityMinor
		case observed < 25:
			return SeverityModerate
		case observed < 33:
			return SeveritySevere
		default:
			return SeverityExtreme
		}
	case "precip_mm":
		switch {
		case observed < 25:
			return SeverityMinor
		case observed < 50:
			return SeverityModerate
		case observed < 100:
			return SeveritySevere
		default:
			return SeverityExtreme
		}
	default:
		return ""
	}
}

// Severity labels, ordered least to most severe.
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
	SeverityExtreme  = "extreme"
)
