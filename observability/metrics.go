package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	txs        *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	transfers  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	height     prometheus.Gauge
}

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// Ledger returns the lazily-initialised registry tracking contract execution.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			txs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "ledger",
				Name:      "tx_total",
				Help:      "Transactions processed segmented by contract code, action, and outcome.",
			}, []string{"contract", "action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mm",
				Subsystem: "ledger",
				Name:      "tx_duration_seconds",
				Help:      "Latency distribution for transaction execution including settlement.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"contract"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Transfer instructions handed to settlement segmented by denom.",
			}, []string{"denom"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "risk",
				Name:      "solvency_rejections_total",
				Help:      "Operations rejected by the solvency check segmented by reason code.",
			}, []string{"reason"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mm",
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Height of the last committed transaction.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.txs,
			ledgerRegistry.latency,
			ledgerRegistry.transfers,
			ledgerRegistry.rejections,
			ledgerRegistry.height,
		)
	})
	return ledgerRegistry
}

// ObserveTx records the outcome of one transaction. Outcome should be a
// stable string such as "committed" or an error kind.
func (m *ledgerMetrics) ObserveTx(contract, action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if contract == "" {
		contract = "unknown"
	}
	if action == "" {
		action = "unknown"
	}
	m.txs.WithLabelValues(contract, action, outcome).Inc()
	m.latency.WithLabelValues(contract).Observe(duration.Seconds())
}

func (m *ledgerMetrics) RecordTransfer(denom string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(denom).Inc()
}

// RecordSolvencyRejection counts a BorrowUnsafe, WithdrawalUnsafe or
// ActiveCollateralInUse failure.
func (m *ledgerMetrics) RecordSolvencyRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *ledgerMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC method activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mm",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mm",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC call. code is zero on success.
func (m *moduleMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
