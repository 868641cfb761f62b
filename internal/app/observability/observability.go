package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"certexam/internal/auth"
	"certexam/internal/exam"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	attemptsStarted   *prometheus.CounterVec
	attemptsFinished  *prometheus.CounterVec
	responses         prometheus.Counter
	submitConflicts   prometheus.Counter
	certificates      prometheus.Counter
	certificateErrors prometheus.Counter
}

var _ exam.Recorder = (*Collector)(nil)

func NewCollector(db *sql.DB) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if db != nil {
		reg.MustRegister(collectors.NewDBStatsCollector(db, "certexam"))
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certexam_http_requests_total",
			Help: "HTTP requests by method, normalized path and status.",
		}, []string{"method", "path", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certexam_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		attemptsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certexam_attempts_started_total",
			Help: "Attempts started per exam.",
		}, []string{"exam_id"}),
		attemptsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certexam_attempts_finished_total",
			Help: "Attempts that reached a terminal status.",
		}, []string{"status", "passed"}),
		responses: factory.NewCounter(prometheus.CounterOpts{
			Name: "certexam_responses_recorded_total",
			Help: "Responses recorded on in-progress attempts.",
		}),
		submitConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "certexam_submit_conflicts_total",
			Help: "Submit attempts that lost a concurrent transition.",
		}),
		certificates: factory.NewCounter(prometheus.CounterOpts{
			Name: "certexam_certificates_issued_total",
			Help: "Certificates issued.",
		}),
		certificateErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "certexam_certificate_failures_total",
			Help: "Certificate issuance calls that gave up.",
		}),
	}
}

func (c *Collector) AttemptStarted(examID string) {
	c.attemptsStarted.WithLabelValues(examID).Inc()
}

func (c *Collector) AttemptFinished(status exam.AttemptStatus, passed bool) {
	c.attemptsFinished.WithLabelValues(string(status), strconv.FormatBool(passed)).Inc()
}

func (c *Collector) ResponseRecorded()  { c.responses.Inc() }
func (c *Collector) SubmitConflict()    { c.submitConflicts.Inc() }
func (c *Collector) CertificateIssued() { c.certificates.Inc() }
func (c *Collector) CertificateFailed() { c.certificateErrors.Inc() }

type requestInfoKey struct{}

// requestInfo is filled in by inner middleware once the caller is known.
type requestInfo struct {
	userID string
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics and writes one JSON access log line per request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

		elapsed := time.Since(start)
		path := normalizedPath(r.URL.Path)
		c.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		c.httpLatency.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

		entry := map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"user_id":    info.userID,
			"attempt_id": extractAttemptID(r.URL.Path),
			"method":     r.Method,
			"path":       path,
			"status":     rec.status,
			"latency_ms": float64(elapsed.Microseconds()) / 1000.0,
			"remote_ip":  strings.TrimSpace(r.RemoteAddr),
		}
		b, _ := json.Marshal(entry)
		log.Printf("%s", string(b))
	})
}

// TagUser copies the authenticated user into the access log entry. It must
// run after auth.Handler.RequireAuth.
func TagUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			if u, ok := auth.CurrentUser(r.Context()); ok {
				info.userID = u.ID
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// normalizedPath collapses ids so metric label cardinality stays bounded.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if isID(p) || (i > 0 && parts[i-1] == "verify") {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isID(s string) bool {
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func extractAttemptID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "attempts" && isID(parts[i+1]) {
			return parts[i+1]
		}
	}
	return ""
}
