package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// realtime feed and the authenticated API layer.
type Metrics struct {
	// Realtime feed metrics.
	FramesReceived      *prometheus.CounterVec // labels: command
	MessagesDropped     *prometheus.CounterVec // labels: reason={decode_error,payload_error,unknown_destination}
	ReadingsReceived    prometheus.Counter
	AlertsReceived      prometheus.Counter
	Connected           prometheus.Gauge
	Reconnects          prometheus.Counter
	SubscriptionsActive prometheus.Gauge

	// Authenticated request metrics.
	RequestsTotal   *prometheus.CounterVec // labels: outcome={success,http_error,transport_error,session_expired}
	RequestDuration prometheus.Histogram
	AuthRetries     prometheus.Counter
	TokenRefreshes  *prometheus.CounterVec // labels: outcome={success,failure}
	SessionExpiries prometheus.Counter
}

// NewMetrics creates and registers all client metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FramesReceived,
		m.MessagesDropped,
		m.ReadingsReceived,
		m.AlertsReceived,
		m.Connected,
		m.Reconnects,
		m.SubscriptionsActive,
		m.RequestsTotal,
		m.RequestDuration,
		m.AuthRetries,
		m.TokenRefreshes,
		m.SessionExpiries,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "frames_received_total",
			Help:      "STOMP frames received from the feed by command.",
		}, []string{"command"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "messages_dropped_total",
			Help:      "Inbound frames dropped without dispatch, by reason.",
		}, []string{"reason"}),
		ReadingsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "readings_received_total",
			Help:      "Station readings dispatched to the presentation layer.",
		}),
		AlertsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "alerts_received_total",
			Help:      "Threshold alerts dispatched to the presentation layer.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_watch",
			Name:      "feed_connected",
			Help:      "1 while the realtime feed is in the Connected state.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "feed_reconnects_total",
			Help:      "Reconnection attempts made by the feed supervisor.",
		}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_watch",
			Name:      "subscriptions_active",
			Help:      "Currently tracked topic subscriptions.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "api_requests_total",
			Help:      "Authenticated API requests by outcome.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_watch",
			Name:      "api_request_duration_seconds",
			Help:      "Authenticated API request duration including refresh retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		AuthRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "auth_retries_total",
			Help:      "Requests that hit a 401 and entered the refresh-and-retry path.",
		}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		SessionExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "session_expiries_total",
			Help:      "Times the session was declared unrecoverable.",
		}),
	}
}
