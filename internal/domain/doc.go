// Package domain models the payloads the Storm Watch realtime feed carries.
//
// # Topics
//
// The server pushes two kinds of MESSAGE frames over the STOMP feed:
//
//	/topic/station/<id>  →  sensor readings for one weather station
//	/topic/alerts        →  threshold alerts across all watched stations
//
// Bodies are JSON documents matching [StationReading] and [ThresholdAlert].
// The protocol layer treats them as opaque; only the parse helpers in this
// package know their shapes.
//
// # Severity scale
//
// Alerts carry a four-level severity label (minor, moderate, severe,
// extreme), the same project-specific simplification the storm-data
// services use for user-facing queries. When the server omits the label,
// [DeriveSeverity] reproduces it from the metric and observed value using
// thresholds informed by NWS Severe Weather Criteria:
//
//	temperature_c: <32 minor | <38 moderate | <42 severe | ≥42 extreme
//	wind_speed_ms: <17 minor | <25 moderate | <33 severe | ≥33 extreme
//	precip_mm:     <25 minor | <50 moderate | <100 severe | ≥100 extreme
//
// # Timestamps
//
// RecordedAt is set by the station and arrives in the payload; ReceivedAt
// is stamped locally by the parse helpers using the package clock, so tests
// can freeze it via [SetClock].
package domain
