package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskflow_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskflow_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	GuardDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_guard_denials_total",
			Help: "Authorization guard rejections by guard.",
		},
		[]string{"guard"},
	)

	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_quota_rejections_total",
			Help: "Quota ledger rejections by resource.",
		},
		[]string{"resource"},
	)

	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_auth_tokens_issued_total",
			Help: "Invite and reset tokens issued.",
		},
		[]string{"type"},
	)

	TokenRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_auth_token_redemptions_total",
			Help: "Invite and reset token redemptions by outcome.",
		},
		[]string{"type", "outcome"},
	)

	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			GuardDenials, QuotaRejections, TokensIssued, TokenRedemptions, Logins,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records count, latency and in-flight gauge for a route pattern.
// Route must be the registered pattern, not the raw path, to bound cardinality.
func Instrument(route string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next(sw, r)

			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
