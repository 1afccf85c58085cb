// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// UpstreamRequestsTotal counts forwarded calls by endpoint and outcome.
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Total upstream calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"}) // "success", "error", "timeout"

	UpstreamLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "upstream",
		Name:      "latency_seconds",
		Help:      "Upstream call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// CreditsDebitedTotal counts credits debited from accounts.
	CreditsDebitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "credits",
		Name:      "debited_total",
		Help:      "Total credits debited after successful upstream calls.",
	})

	// CreditDecisionsTotal counts credit authorization outcomes.
	CreditDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "credits",
		Name:      "decisions_total",
		Help:      "Credit-gated requests by outcome.",
	}, []string{"outcome"}) // "charged", "unauthenticated", "insufficient", "upstream_failed", "drained"

	// PaymentsTotal counts x402 flow outcomes by network.
	PaymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "x402",
		Name:      "payments_total",
		Help:      "x402 payment attempts by network and outcome.",
	}, []string{"network", "outcome"}) // "challenged", "invalid", "no_match", "verify_failed", "settled", "settle_failed", "skipped"

	// FacilitatorLatency observes facilitator call latency by operation.
	FacilitatorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "x402",
		Name:      "facilitator_latency_seconds",
		Help:      "Facilitator call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	// NoncesIssuedTotal counts issued login nonces.
	NoncesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "nonce",
		Name:      "issued_total",
		Help:      "Total login nonces issued.",
	})

	// NonceRejectionsTotal counts failed consumptions by reason.
	NonceRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "nonce",
		Name:      "rejections_total",
		Help:      "Rejected nonce consumptions by reason.",
	}, []string{"reason"}) // "not_found", "replay", "expired"

	NoncesSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "nonce",
		Name:      "swept_total",
		Help:      "Total expired nonces removed by the sweeper.",
	})

	// RegistryEndpoints tracks the size of the active endpoint snapshot.
	RegistryEndpoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "registry_endpoints",
		Help:      "Number of endpoints in the active registry snapshot.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamLatency,
		CreditsDebitedTotal,
		CreditDecisionsTotal,
		PaymentsTotal,
		FacilitatorLatency,
		NoncesIssuedTotal,
		NonceRejectionsTotal,
		NoncesSweptTotal,
		RegistryEndpoints,
	)
}
