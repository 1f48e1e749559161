package domain

import (
	"fmt"
	"strings"
)

// AlertsTopic is the shared destination for threshold alerts.
const AlertsTopic = "/topic/alerts"

// Markers used to classify inbound MESSAGE destinations. Matching is by
// substring so versioned or broker-prefixed destination paths still route.
const (
	stationTopicMarker = "/station/"
	alertTopicMarker   = "/alert"
)

// StationTopic returns the per-station readings destination.
func StationTopic(stationID int64) string {
	return fmt.Sprintf("/topic/station/%d", stationID)
}

// IsStationTopic reports whether a destination carries station readings.
func IsStationTopic(destination string) bool {
	return strings.Contains(destination, stationTopicMarker)
}

// IsAlertTopic reports whether a destination carries threshold alerts.
func IsAlertTopic(destination string) bool {
	return strings.Contains(destination, alertTopicMarker)
}
