// Package metrics exposes Prometheus instrumentation for the backend.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the backend's Prometheus collectors. Construct one per
// process with NewMetrics and share it across services.
type Metrics struct {
	registry *prometheus.Registry

	// Authorization metrics
	AuthorizationsTotal *prometheus.CounterVec

	// Version ledger metrics
	VersionsRecordedTotal prometheus.Counter
	EditConflictsTotal    prometheus.Counter

	// Sharing metrics
	ShareLinksIssuedTotal prometheus.Counter
	QRLinksIssuedTotal    prometheus.Counter

	// Change feed metrics
	PollsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry so repeated
// construction (as happens in tests) never double-registers.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{registry: registry}

	m.AuthorizationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkline_authorizations_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"action", "outcome"},
	)

	m.VersionsRecordedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "inkline_versions_recorded_total",
			Help: "Total number of document versions appended to the ledger",
		},
	)

	m.EditConflictsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "inkline_edit_conflicts_total",
			Help: "Total number of edits abandoned after version number conflicts",
		},
	)

	m.ShareLinksIssuedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "inkline_share_links_issued_total",
			Help: "Total number of share links issued",
		},
	)

	m.QRLinksIssuedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "inkline_qr_links_issued_total",
			Help: "Total number of QR links issued",
		},
	)

	m.PollsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkline_polls_total",
			Help: "Total number of change feed polls",
		},
		[]string{"outcome"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkline_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	return m
}

// Registry returns the registry backing the collectors, for serving the
// scrape endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAuthorization records a single allow or deny decision.
func (m *Metrics) RecordAuthorization(action string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.AuthorizationsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordPoll records one change feed poll and whether access survived it.
func (m *Metrics) RecordPoll(terminal bool) {
	outcome := "ok"
	if terminal {
		outcome = "revoked"
	}
	m.PollsTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
