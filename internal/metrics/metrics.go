package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Payment gateway metrics
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btzpay_requests_total",
			Help: "Total number of BTZPay API requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "btzpay_request_duration_seconds",
			Help:    "Duration of BTZPay API requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"op"},
	)
	GatewayBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "btzpay_circuit_breaker_state",
			Help: "BTZPay circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// Reconciliation metrics
	ReconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_reconcile_outcomes_total",
			Help: "Outcomes of subscription state machine transitions",
		},
		[]string{"action", "outcome"},
	)
	PendingTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscription_pending_transactions",
			Help: "Pending transactions seen by the last reconciliation sweep",
		},
	)
	PollSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "subscription_poll_sweep_duration_seconds",
			Help: "Duration of a full pending-transaction sweep",
		},
	)
)

// InitMetrics registers every collector with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsInFlight)

	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(GatewayBreakerState)

	prometheus.MustRegister(ReconcileOutcomesTotal)
	prometheus.MustRegister(PendingTransactions)
	prometheus.MustRegister(PollSweepDuration)

	prometheus.MustRegister(collectors.NewGoCollector())
	prometheus.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}
