package domain

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat,omitempty"`
	Lon float64 `json:"lon,omitempty"`
}

// Station is a monitored weather station as returned by the station API.
type Station struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Geo    Geo    `json:"geo,omitempty"`
	Active bool   `json:"active"`
}

// Topic returns the STOMP destination carrying this station's readings.
func (s Station) Topic() string {
	return StationTopic(s.ID)
}
