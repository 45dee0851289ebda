package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zkusd"

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// VaultMetrics tracks vault state transitions.
type VaultMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidatable prometheus.Gauge
	vaults       prometheus.Gauge
}

// Vaults returns the lazily-initialised vault metrics registry.
func Vaults() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidatable: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "liquidatable",
				Help:      "Number of vaults whose health factor is at or below the liquidation threshold.",
			}),
			vaults: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "count",
				Help:      "Number of vaults created.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.liquidatable,
			vaultRegistry.vaults,
		)
	})
	return vaultRegistry
}

// Observe records the outcome and latency of a vault operation.
func (m *VaultMetrics) Observe(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome(err)).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetLiquidatable publishes the latest liquidatable vault count.
func (m *VaultMetrics) SetLiquidatable(n int) {
	if m == nil {
		return
	}
	m.liquidatable.Set(float64(n))
}

// SetVaultCount publishes the number of vaults.
func (m *VaultMetrics) SetVaultCount(n uint64) {
	if m == nil {
		return
	}
	m.vaults.Set(float64(n))
}

// OracleMetrics tracks price submissions and settlement.
type OracleMetrics struct {
	submissions *prometheus.CounterVec
	settlements prometheus.Counter
	price       prometheus.Gauge
	pending     prometheus.Gauge
	fallback    prometheus.Counter
	fees        prometheus.Counter
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "submissions_total",
				Help:      "Price submissions segmented by outcome.",
			}, []string{"outcome"}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "settlements_total",
				Help:      "Rounds settled with at least one submission.",
			}),
			price: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "aggregated_price",
				Help:      "Last settled aggregated price in base units.",
			}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "pending_submissions",
				Help:      "Submissions waiting for the current round to settle.",
			}),
			fallback: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "fallback_reads_total",
				Help:      "Price reads served from the fallback slots because the aggregate was stale.",
			}),
			fees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "fees_paid_total",
				Help:      "Base-asset units paid to submitters.",
			}),
		}
		prometheus.MustRegister(
			oracleRegistry.submissions,
			oracleRegistry.settlements,
			oracleRegistry.price,
			oracleRegistry.pending,
			oracleRegistry.fallback,
			oracleRegistry.fees,
		)
	})
	return oracleRegistry
}

// RecordSubmission counts a submission attempt and any fee paid.
func (m *OracleMetrics) RecordSubmission(err error, fee uint64) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome(err)).Inc()
	if fee > 0 {
		m.fees.Add(float64(fee))
	}
}

// RecordSettlement publishes a freshly settled price.
func (m *OracleMetrics) RecordSettlement(price uint64) {
	if m == nil {
		return
	}
	m.settlements.Inc()
	m.price.Set(float64(price))
}

// SetPending publishes the number of unsettled submissions.
func (m *OracleMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// RecordFallbackRead counts a price read served by a fallback slot.
func (m *OracleMetrics) RecordFallbackRead() {
	if m == nil {
		return
	}
	m.fallback.Inc()
}

// HTTPMetrics tracks gateway requests.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	authFails *prometheus.CounterVec
}

// HTTP returns the lazily-initialised gateway metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Gateway errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"reason"}),
			authFails: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "auth_failures_total",
				Help:      "Signed requests rejected by the authenticator.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
			httpRegistry.authFails,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. status is the HTTP status that was
// written to the client.
func (m *HTTPMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	result := "success"
	if status >= 400 {
		result = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, result).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for reason.
func (m *HTTPMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// RecordAuthFailure increments the authentication failure counter for reason.
func (m *HTTPMetrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFails.WithLabelValues(reason).Inc()
}
