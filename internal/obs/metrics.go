package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Security-core metrics.
var (
	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by policy and outcome.",
		},
		[]string{"policy", "outcome"},
	)

	rateLimitDegraded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_store_degraded_total",
		Help: "Rate limiter fail-open events caused by counter store errors.",
	})

	tokenValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_validations_total",
			Help: "Signed token validations by result.",
		},
		[]string{"result"},
	)

	authzChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_checks_total",
			Help: "RBAC permission checks by outcome.",
		},
		[]string{"outcome"},
	)

	secretRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "secret_rotations_total",
		Help: "Completed signing secret rotations.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		rateLimitDecisions, rateLimitDegraded,
		tokenValidations, authzChecks, secretRotations,
		readyGauge,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RateLimitDecision records a limiter decision ("allowed", "denied", "blocked").
func RateLimitDecision(policy, outcome string) {
	rateLimitDecisions.WithLabelValues(policy, outcome).Inc()
}

// RateLimitDegraded records a fail-open event.
func RateLimitDegraded() {
	rateLimitDegraded.Inc()
}

// TokenValidation records a token validation result
// ("valid", "invalid_signature", "expired", "malformed").
func TokenValidation(result string) {
	tokenValidations.WithLabelValues(result).Inc()
}

// AuthzCheck records a permission check outcome ("allowed", "denied").
func AuthzCheck(outcome string) {
	authzChecks.WithLabelValues(outcome).Inc()
}

// SecretRotated records a completed keyring rotation.
func SecretRotated() {
	secretRotations.Inc()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// CanonicalPath collapses identifier path segments so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "users":
		rest := strings.Join(parts[4:], "/")
		if rest != "" {
			rest = "/" + rest
		}
		return "/v1/admin/users/:id" + rest
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "roles":
		return "/v1/admin/roles/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "ratelimits":
		return "/v1/admin/ratelimits/:key"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics and logs.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
