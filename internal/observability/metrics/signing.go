package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SigningMetrics counts workflow outcomes. It implements ports.SigningMetrics.
type SigningMetrics struct {
	service string

	signaturesTotal   *prometheus.CounterVec
	completedTotal    *prometheus.CounterVec
	finalizeTotal     *prometheus.CounterVec
	verificationTotal *prometheus.CounterVec
}

func NewSigningMetrics(service string, registerer prometheus.Registerer) *SigningMetrics {
	m := &SigningMetrics{
		service: service,
		signaturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "signing",
				Name:      "signatures_total",
				Help:      "Signature submissions by result.",
			},
			[]string{"service", "result"},
		),
		completedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "signing",
				Name:      "requests_completed_total",
				Help:      "Signing requests that reached completed.",
			},
			[]string{"service"},
		),
		finalizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "signing",
				Name:      "finalize_total",
				Help:      "Finalize attempts by status.",
			},
			[]string{"service", "status"},
		),
		verificationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "signing",
				Name:      "verifications_total",
				Help:      "Verification calls by verdict.",
			},
			[]string{"service", "valid"},
		),
	}
	registerer.MustRegister(m.signaturesTotal, m.completedTotal, m.finalizeTotal, m.verificationTotal)
	return m
}

func (m *SigningMetrics) SignatureSubmitted(result string) {
	if result == "" {
		result = "unknown"
	}
	m.signaturesTotal.WithLabelValues(m.service, result).Inc()
}

func (m *SigningMetrics) RequestCompleted() {
	m.completedTotal.WithLabelValues(m.service).Inc()
}

func (m *SigningMetrics) Finalized(status string) {
	if status == "" {
		status = "unknown"
	}
	m.finalizeTotal.WithLabelValues(m.service, status).Inc()
}

func (m *SigningMetrics) Verified(valid bool) {
	m.verificationTotal.WithLabelValues(m.service, strconv.FormatBool(valid)).Inc()
}
