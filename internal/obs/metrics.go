package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics.
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

// Auth and audit domain metrics.
var (
	otpIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_issued_total",
			Help: "One-time codes issued, by flow.",
		},
		[]string{"flow"},
	)

	otpRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_rejected_total",
			Help: "One-time code verifications rejected, by flow and reason.",
		},
		[]string{"flow", "reason"},
	)

	sessionsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_issued_total",
		Help: "Bearer sessions issued after completed logins.",
	})

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit records that failed to persist.",
	})

	auditSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_swept_records_total",
		Help: "Expired audit records removed by the sweeper.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		otpIssuedTotal, otpRejectedTotal, sessionsIssuedTotal,
		auditWriteFailures, auditSweptTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func OTPIssued(flow string)           { otpIssuedTotal.WithLabelValues(flow).Inc() }
func OTPRejected(flow, reason string) { otpRejectedTotal.WithLabelValues(flow, reason).Inc() }
func SessionIssued()                  { sessionsIssuedTotal.Inc() }
func AuditWriteFailed()               { auditWriteFailures.Inc() }
func AuditSwept(n int)                { auditSweptTotal.Add(float64(n)) }

// CanonicalPath collapses entity ids in known routes so metric labels
// stay low-cardinality. Unknown shapes pass through untouched.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return path
	}
	sub := ""
	if len(parts) >= 4 {
		sub = parts[3]
	}
	switch parts[1] {
	case "projects":
		switch {
		case len(parts) == 3,
			len(parts) == 4 && (sub == "members" || sub == "windfarms"):
			parts[2] = ":id"
		case len(parts) == 5 && sub == "members":
			parts[2], parts[4] = ":id", ":user_id"
		}
	case "windfarms":
		if len(parts) == 3 || (len(parts) == 4 && sub == "turbines") {
			parts[2] = ":id"
		}
	case "turbines":
		if len(parts) == 3 || (len(parts) == 4 && (sub == "status" || sub == "inspections")) {
			parts[2] = ":id"
		}
	case "inspections":
		if len(parts) == 3 || (len(parts) == 4 && (sub == "status" || sub == "assessments")) {
			parts[2] = ":id"
		}
	case "admin":
		switch {
		case parts[2] == "users" && len(parts) == 4 && sub != "pending":
			parts[3] = ":id"
		case parts[2] == "users" && len(parts) == 5 && parts[4] == "approve":
			parts[3] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// Instrument wraps a handler with request count/latency/in-flight metrics.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
