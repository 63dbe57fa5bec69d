package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentree_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumentree_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentree_upstream_requests_total",
			Help: "Requests made to the vendor API by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumentree_upstream_request_duration_seconds",
			Help:    "Vendor API latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	TokenCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentree_token_cache_total",
			Help: "Token cache lookups by outcome (hit, miss, restored, auth_error)",
		},
		[]string{"outcome"},
	)

	HubConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumentree_hub_connections",
			Help: "Connected real-time clients",
		},
	)

	HubSubscribedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumentree_hub_subscribed_devices",
			Help: "Devices with at least one subscriber",
		},
	)

	HubMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentree_hub_messages_total",
			Help: "Real-time messages by type and result (sent, dropped)",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(UpstreamDuration)
	prometheus.MustRegister(TokenCache)
	prometheus.MustRegister(HubConnections)
	prometheus.MustRegister(HubSubscribedDevices)
	prometheus.MustRegister(HubMessages)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one vendor call.
func ObserveUpstream(endpoint string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpstreamRequests.WithLabelValues(endpoint, result).Inc()
	UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and latency. route should be the mux
// pattern, not the raw path, so device IDs don't explode label cardinality.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
