package metrics

import (
	"net/http"
	"time"

	"queue-sync/src/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of one process. Collectors live on their own
// registry so tests can build as many instances as they like.
type Metrics struct {
	Registry *prometheus.Registry

	// Channel
	ConnectionTransitions *prometheus.CounterVec
	ConnectionState       *prometheus.GaugeVec
	ReconnectAttempt      prometheus.Gauge
	MessagesReceived      *prometheus.CounterVec

	// Store
	SnapshotsApplied prometheus.Counter
	SnapshotReceived prometheus.Gauge
	OptionsAvailable prometheus.Gauge

	// Booking
	BookingsTotal   *prometheus.CounterVec
	BookingDuration prometheus.Histogram
	PreviewsTotal   *prometheus.CounterVec

	// Local API
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ViewSubscribers     prometheus.Gauge
}

var phases = []models.ConnectionPhase{
	models.PhaseIdle,
	models.PhaseConnecting,
	models.PhaseOpen,
	models.PhaseReconnecting,
	models.PhaseClosed,
}

// -----------------------------------------------------------------------------

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ConnectionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_sync_connection_transitions_total",
				Help: "Connection state-machine transitions by target phase",
			},
			[]string{"to"},
		),
		ConnectionState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_sync_connection_state",
				Help: "1 for the current connection phase, 0 otherwise",
			},
			[]string{"phase"},
		),
		ReconnectAttempt: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_sync_reconnect_attempt",
				Help: "Current reconnect attempt, 0 while connected",
			},
		),
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_sync_channel_messages_total",
				Help: "Inbound channel messages forwarded to the session by type",
			},
			[]string{"type"},
		),

		SnapshotsApplied: f.NewCounter(
			prometheus.CounterOpts{
				Name: "queue_sync_snapshots_applied_total",
				Help: "Queue snapshots applied to the store",
			},
		),
		SnapshotReceived: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_sync_snapshot_received_timestamp_seconds",
				Help: "Unix time the latest snapshot was received",
			},
		),
		OptionsAvailable: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_sync_options_available",
				Help: "Queue options currently submittable",
			},
		),

		BookingsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_sync_bookings_total",
				Help: "Booking submissions by outcome",
			},
			[]string{"outcome"},
		),
		BookingDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "queue_sync_booking_duration_seconds",
				Help:    "Latency of booking submissions",
				Buckets: prometheus.DefBuckets,
			},
		),
		PreviewsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_sync_previews_total",
				Help: "Preview loads by source (cache, network, error, rate_limited)",
			},
			[]string{"source"},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_sync_http_requests_total",
				Help: "Local API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "queue_sync_http_request_duration_seconds",
				Help:    "Local API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ViewSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_sync_view_subscribers",
				Help: "Local UI sockets receiving view pushes",
			},
		),
	}
}

// -----------------------------------------------------------------------------

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// -----------------------------------------------------------------------------

// ObserveTransition records a connection phase change. Its signature matches
// the connection manager's transition observer.
func (m *Metrics) ObserveTransition(ev models.MConnectionEvent, health models.MConnectionHealth) {
	m.ConnectionTransitions.WithLabelValues(string(ev.To)).Inc()
	for _, p := range phases {
		v := 0.0
		if p == ev.To {
			v = 1
		}
		m.ConnectionState.WithLabelValues(string(p)).Set(v)
	}
	m.ReconnectAttempt.Set(float64(health.Attempt))
}

// -----------------------------------------------------------------------------

// ObserveView updates store gauges from a pushed view.
func (m *Metrics) ObserveView(view models.MSessionView) {
	n := 0
	for _, o := range view.Options {
		if o.Available {
			n++
		}
	}
	m.OptionsAvailable.Set(float64(n))
	if view.SnapshotAt > 0 {
		m.SnapshotReceived.Set(float64(view.SnapshotAt))
	}
}

// -----------------------------------------------------------------------------

// ObserveBooking records one submit outcome ("confirmed", "conflict",
// "rejected", "failed").
func (m *Metrics) ObserveBooking(outcome string, started time.Time) {
	m.BookingsTotal.WithLabelValues(outcome).Inc()
	m.BookingDuration.Observe(time.Since(started).Seconds())
}
