package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frozen = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

func freezeClock(t *testing.T) {
	t.Helper()
	SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { SetClock(nil) })
}

func TestParseReading(t *testing.T) {
	freezeClock(t)

	r, err := ParseReading([]byte(`{
		"station_id": 7,
		"temperature_c": 21.5,
		"humidity_pct": 64,
		"wind_speed_ms": 12.3,
		"pressure_hpa": 1013.2,
		"recorded_at": "2026-03-14T09:26:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, int64(7), r.StationID)
	assert.Equal(t, 21.5, r.TemperatureC)
	assert.Equal(t, 12.3, r.WindSpeedMS)
	assert.Equal(t, frozen, r.ReceivedAt)
}

func TestParseReading_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not json"},
		{name: "missing station id", body: `{"temperature_c": 21.5}`},
		{name: "wrong type", body: `{"station_id": "seven"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReading([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseAlert_UsesServerSeverity(t *testing.T) {
	freezeClock(t)

	a, err := ParseAlert([]byte(`{
		"id": "al-42",
		"station_id": 7,
		"metric": "wind_speed_ms",
		"threshold": 20,
		"observed": 26.1,
		"severity": "severe",
		"raised_at": "2026-03-14T09:25:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "al-42", a.ID)
	assert.Equal(t, SeveritySevere, a.Severity)
	assert.Equal(t, frozen, a.ReceivedAt)
}

func TestParseAlert_DerivesSeverityWhenOmitted(t *testing.T) {
	freezeClock(t)

	a, err := ParseAlert([]byte(`{"id":"al-1","station_id":7,"metric":"wind_speed_ms","threshold":20,"observed":26.1}`))
	require.NoError(t, err)
	assert.Equal(t, SeverityModerate, a.Severity)
}

func TestParseAlert_MissingID(t *testing.T) {
	_, err := ParseAlert([]byte(`{"station_id":7,"metric":"precip_mm"}`))
	assert.Error(t, err)
}

func TestDeriveSeverity(t *testing.T) {
	tests := []struct {
		metric   string
		observed float64
		want     string
	}{
		{"temperature_c", 25, SeverityMinor},
		{"temperature_c", 33, SeverityModerate},
		{"temperature_c", 40, SeveritySevere},
		{"temperature_c", 45, SeverityExtreme},
		{"wind_speed_ms", 10, SeverityMinor},
		{"wind_speed_ms", 17, SeverityModerate},
		{"wind_speed_ms", 33, SeverityExtreme},
		{"precip_mm", 24.9, SeverityMinor},
		{"precip_mm", 75, SeveritySevere},
		{"precip_mm", 150, SeverityExtreme},
		{"humidity_pct", 99, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveSeverity(tt.metric, tt.observed),
			"metric=%s observed=%v", tt.metric, tt.observed)
	}
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "/topic/station/7", StationTopic(7))
	assert.Equal(t, "/topic/station/7", Station{ID: 7}.Topic())

	assert.True(t, IsStationTopic("/topic/station/7"))
	assert.False(t, IsStationTopic(AlertsTopic))

	assert.True(t, IsAlertTopic(AlertsTopic))
	assert.True(t, IsAlertTopic("/topic/alerts/severe"))
	assert.False(t, IsAlertTopic("/topic/station/7"))
}
