package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolCalls counts gateway operations by tool and outcome
	// (ok, unauthorized, forbidden, rate_limited, upstream_error, invalid).
	ToolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raggateway_tool_calls_total",
		Help: "Total number of gateway tool calls grouped by tool and outcome",
	}, []string{"tool", "outcome"})
	RateLimitAllowed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raggateway_rate_limit_allowed_total",
		Help: "Total number of requests admitted by the per-key sliding window",
	})
	RateLimitRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raggateway_rate_limit_rejected_total",
		Help: "Total number of requests rejected by the per-key sliding window",
	})
	// No key label: identities are secrets and unbounded in number.
	UpstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raggateway_upstream_request_duration_seconds",
		Help:    "Latency of QA service requests",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"result"})
	ThrottledRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raggateway_ip_throttled_total",
		Help: "Total number of HTTP requests rejected by the per-IP throttle",
	})
)

func init() {
	prometheus.MustRegister(ToolCalls)
	prometheus.MustRegister(RateLimitAllowed)
	prometheus.MustRegister(RateLimitRejected)
	prometheus.MustRegister(UpstreamDuration)
	prometheus.MustRegister(ThrottledRequests)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
