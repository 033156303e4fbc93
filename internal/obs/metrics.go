package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "m2m_tokens_issued_total",
		Help: "Access tokens issued through the client_credentials grant.",
	})

	tokenIssueFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2m_token_issue_failures_total",
			Help: "Rejected token requests by internal reason.",
		},
		[]string{"reason"},
	)

	tokenVerifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2m_token_verify_failures_total",
			Help: "Rejected bearer tokens by internal reason.",
		},
		[]string{"reason"},
	)

	admissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_rejections_total",
			Help: "Requests rejected by rate limiting, by limit class.",
		},
		[]string{"class"},
	)
)

// Init registers all collectors in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			tokensIssued,
			tokenIssueFailures,
			tokenVerifyFailures,
			admissionRejections,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTokenIssued() { tokensIssued.Inc() }

func RecordIssueFailure(reason string) {
	tokenIssueFailures.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func RecordVerifyFailure(reason string) {
	tokenVerifyFailures.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func RecordAdmissionRejected(class string) {
	admissionRejections.WithLabelValues(labelOrUnknown(class)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Instrument records request count, latency and in-flight gauge.
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

// CanonicalPath replaces UUID path segments with :id so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := uuid.Parse(seg); err == nil && len(seg) == 36 {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
