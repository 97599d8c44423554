package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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

// Domain metrics
var (
	resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "permgate_resolve_duration_seconds",
			Help:    "Permission tree resolution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permgate_auth_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permgate_tokens_issued_total",
		Help: "Signed tokens issued.",
	})

	tokenValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permgate_token_validation_failures_total",
			Help: "Rejected tokens by reason.",
		},
		[]string{"reason"},
	)

	tokenCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permgate_token_cache_lookups_total",
			Help: "Token cache lookups by backend and result.",
		},
		[]string{"backend", "result"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			resolveDuration, authAttempts, tokensIssued, tokenValidationFailures, tokenCacheLookups,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolve records one permission resolution.
func ObserveResolve(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	resolveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// CountAuthAttempt records an authentication outcome ("ok", "denied", "error").
func CountAuthAttempt(outcome string) {
	authAttempts.WithLabelValues(outcome).Inc()
}

// CountTokenIssued records a signed token.
func CountTokenIssued() {
	tokensIssued.Inc()
}

// CountTokenRejected records a failed validation with its reason.
func CountTokenRejected(reason string) {
	tokenValidationFailures.WithLabelValues(reason).Inc()
}

// CountCacheLookup records a token cache hit or miss.
func CountCacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	tokenCacheLookups.WithLabelValues(backend, result).Inc()
}

// Instrument wraps next with RPS, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := canonicalMethod(r.Method)

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

func canonicalMethod(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	}
	return "OTHER"
}

// OtherPath labels every request that matches no known route.
const OtherPath = "other"

var staticPaths = map[string]bool{
	"/":                       true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/users/authenticate": true,
	"/api/applications":       true,
	"/api/errorlogs":          true,
}

// CanonicalPath maps a request path onto a fixed set of route labels: ids
// collapse to ":id" and unknown paths become OtherPath.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	if staticPaths[path] {
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "users" && parts[3] == "permissions" && isID(parts[2]):
		return "/api/users/:id/permissions"
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "applications" && isID(parts[2]):
		return "/api/applications/:id"
	}
	return OtherPath
}

func isID(s string) bool {
	if s == "" || len(s) > 19 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
