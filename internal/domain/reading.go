package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StationReading is one sensor sample pushed on a per-station topic.
type StationReading struct {
	StationID    int64     `json:"station_id"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	WindSpeedMS  float64   `json:"wind_speed_ms"`
	PressureHpa  float64   `json:"pressure_hpa"`
	PrecipMm     float64   `json:"precip_mm"`
	RecordedAt   time.Time `json:"recorded_at"`

	// ReceivedAt is stamped locally when the reading is parsed off the feed.
	ReceivedAt time.Time `json:"-"`
}

// ParseReading deserializes a MESSAGE body into a StationReading and stamps
// ReceivedAt from the package clock.
func ParseReading(data []byte) (StationReading, error) {
	var r StationReading
	if err := json.Unmarshal(data, &r); err != nil {
		return StationReading{}, fmt.Errorf("parse reading: %w", err)
	}
	if r.StationID == 0 {
		return StationReading{}, fmt.Errorf("parse reading: missing station_id")
	}
	r.ReceivedAt = clock.Now().UTC()
	return r, nil
}
