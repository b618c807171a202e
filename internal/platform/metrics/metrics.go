package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// Every method is safe to call on a nil *Metrics.
type Metrics struct {
	HTTPLatency *prometheus.HistogramVec

	AttestationDuration *prometheus.HistogramVec
	AttestationOutcome  *prometheus.CounterVec

	IdentityResolutions *prometheus.CounterVec
	IdentitiesCreated   *prometheus.CounterVec

	ProfileOperations *prometheus.CounterVec
}

// New creates metrics registered on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates metrics registered on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "humanitylink_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),

		AttestationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "humanitylink_attestation_duration_seconds",
			Help:    "Wall-clock time spent in the proof backend",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45},
		}, []string{"outcome"}),

		AttestationOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "humanitylink_attestations_total",
			Help: "Attestation invocations by outcome",
		}, []string{"outcome"}), // outcome: "true", "false", or a failure kind

		IdentityResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "humanitylink_identity_resolutions_total",
			Help: "Identity resolutions by outcome",
		}, []string{"outcome"}), // outcome: "cache_hit", "found", "created", "not_found", or a failure code

		IdentitiesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "humanitylink_identities_created_total",
			Help: "Identities created in the directory by wallet address family",
		}, []string{"wallet_kind"}),

		ProfileOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "humanitylink_profile_operations_total",
			Help: "Confidential profile operations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
}

// ObserveHTTP records the latency of one request.
func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	if m != nil {
		m.HTTPLatency.WithLabelValues(route, method, status).Observe(d.Seconds())
	}
}

// ObserveAttestation records one backend invocation.
func (m *Metrics) ObserveAttestation(outcome string, d time.Duration) {
	if m != nil {
		m.AttestationDuration.WithLabelValues(outcome).Observe(d.Seconds())
		m.AttestationOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncrementResolution records an identity resolution outcome.
func (m *Metrics) IncrementResolution(outcome string) {
	if m != nil {
		m.IdentityResolutions.WithLabelValues(outcome).Inc()
	}
}

// IncrementIdentitiesCreated increments the identities created counter by 1.
func (m *Metrics) IncrementIdentitiesCreated(walletKind string) {
	if m != nil {
		m.IdentitiesCreated.WithLabelValues(walletKind).Inc()
	}
}

// IncrementProfileOperation records a profile store operation.
func (m *Metrics) IncrementProfileOperation(operation, outcome string) {
	if m != nil {
		m.ProfileOperations.WithLabelValues(operation, outcome).Inc()
	}
}
