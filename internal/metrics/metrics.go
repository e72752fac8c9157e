// Package metrics holds the terminal's prometheus collectors. They are
// registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_http_requests_total",
			Help: "HTTP requests served to the terminal UI.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "terminal_http_request_duration_seconds",
			Help:    "Latency of HTTP requests served to the terminal UI.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// SettlementsTotal counts submitted settlements by outcome
	// (settled, partial, failed).
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_settlements_total",
			Help: "Settlement submissions by mode, method and outcome.",
		},
		[]string{"mode", "method", "outcome"},
	)

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "terminal_settlement_duration_seconds",
			Help:    "Round-trip time of settlement calls to the café API.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"mode"},
	)

	PendingSales = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terminal_pending_sales",
		Help: "Pending sales currently listed on the terminal.",
	})

	ReceiptPrintFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminal_receipt_print_failures_total",
		Help: "Receipts that rendered but failed to print.",
	})
)

// Outcome labels for SettlementsTotal.
const (
	OutcomeSettled = "settled"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)
