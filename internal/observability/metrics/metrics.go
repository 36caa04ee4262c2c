package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the payment-pipeline counters.
type Metrics struct {
	PaymentsInitiated  *prometheus.CounterVec
	CallbacksReceived  *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	SweepTransitions   prometheus.Counter
	GatewayRetries     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		PaymentsInitiated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baridi",
			Name:      "payments_initiated_total",
			Help:      "STK push initiations by outcome.",
		}, []string{"environment", "outcome"}),
		CallbacksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baridi",
			Name:      "callbacks_received_total",
			Help:      "Provider callbacks by resolution.",
		}, []string{"resolution"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baridi",
			Name:      "transaction_transitions_total",
			Help:      "Transaction state transitions.",
		}, []string{"from", "to"}),
		RateLimitDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baridi",
			Name:      "ratelimit_decisions_total",
			Help:      "Abuse detector decisions.",
		}, []string{"decision"}),
		SweepTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "baridi",
			Name:      "timeout_sweep_transitions_total",
			Help:      "Transactions moved to timeout by the sweep.",
		}),
		GatewayRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "baridi",
			Name:      "gateway_retries_total",
			Help:      "Retried Daraja push attempts.",
		}),
	}
}

// HTTPMetrics instruments the gin engine.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baridi",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "baridi",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, statusLabel(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
