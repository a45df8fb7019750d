package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lifecycle counters exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	RequestsSubmitted prometheus.Counter
	KeysIssued        prometheus.Counter
	KeysRevoked       prometheus.Counter
	Verifications     *prometheus.CounterVec
}

// NewMetrics creates the lifecycle counters on a dedicated registry, so
// tests can build independent instances without duplicate-registration
// panics from the global default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keygated",
			Name:      "requests_submitted_total",
			Help:      "License requests accepted for administrator review.",
		}),
		KeysIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keygated",
			Name:      "keys_issued_total",
			Help:      "License keys generated, including re-issuances.",
		}),
		KeysRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keygated",
			Name:      "keys_revoked_total",
			Help:      "License keys revoked by an administrator.",
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygated",
			Name:      "verifications_total",
			Help:      "Key verification attempts by result.",
		}, []string{"result"}),
	}
}

// Registry exposes the backing registry for the HTTP metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
