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

// Chain-of-custody domain metrics.
var (
	CertificatesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodia_certificates_issued_total",
		Help: "Client certificates issued by the internal CA.",
	})
	CertificatesRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodia_certificates_revoked_total",
		Help: "Client certificates revoked.",
	})
	EvidenceSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodia_evidence_submitted_total",
		Help: "Evidence items accepted onto the hot chain.",
	})
	EvidenceVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_evidence_verifications_total",
		Help: "Evidence verification passes by outcome.",
	}, []string{"outcome"})
	InvestigationsArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custodia_investigations_archived_total",
		Help: "Investigations moved to cold custody.",
	})
	GUIDResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_guid_resolutions_total",
		Help: "GUID resolution attempts by outcome.",
	}, []string{"outcome"})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		CertificatesIssued, CertificatesRevoked,
		EvidenceSubmitted, EvidenceVerifications,
		InvestigationsArchived, GUIDResolutions,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
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

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/<collection>/<id>[/<verb>]
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "investigations", "evidence", "certificates":
			if len(parts) == 4 || len(parts) == 5 {
				parts[3] = ":id"
				return strings.Join(parts, "/")
			}
		case "pki":
			if len(parts) >= 5 && parts[3] == "certificates" {
				parts[4] = ":id"
				return strings.Join(parts, "/")
			}
		}
	}
	return path
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
