// Package metrics provides Prometheus metrics for the share gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foldershare_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foldershare_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foldershare_bytes_downloaded_total",
			Help: "Total bytes served by download and preview",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foldershare_bytes_uploaded_total",
			Help: "Total bytes committed by uploads",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foldershare_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foldershare_uploads_total",
			Help: "Total number of uploaded files",
		},
		[]string{"status"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foldershare_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	pathRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foldershare_path_traversal_rejections_total",
			Help: "Requests rejected for escaping the share root",
		},
	)

	quotaExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foldershare_quota_exceeded_total",
			Help: "Total writes rejected for lack of reserved space",
		},
	)

	quotaRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foldershare_quota_recompute_duration_seconds",
			Help:    "Time to rescan the share for used bytes",
			Buckets: prometheus.DefBuckets,
		},
	)

	storageUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "foldershare_storage_used_bytes",
			Help: "Bytes used under the share root",
		},
	)

	storageReserved = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "foldershare_storage_reserved_bytes",
			Help: "Bytes reserved for the share",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDownload records a download or preview.
func RecordDownload(bytes int64, success bool) {
	bytesDownloaded.Add(float64(bytes))
	downloadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordUpload records one uploaded file.
func RecordUpload(bytes int64, success bool) {
	if success {
		bytesUploaded.Add(float64(bytes))
	}
	uploadsTotal.WithLabelValues(status(success)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordPathRejection records a path traversal rejection.
func RecordPathRejection() {
	pathRejectionsTotal.Inc()
}

// RecordQuotaExceeded records a quota rejection.
func RecordQuotaExceeded() {
	quotaExceededTotal.Inc()
}

// RecordQuotaRecompute records a full usage rescan.
func RecordQuotaRecompute(d time.Duration) {
	quotaRecomputeDuration.Observe(d.Seconds())
}

// SetStorageUsed sets the used bytes gauge.
func SetStorageUsed(n int64) {
	storageUsed.Set(float64(n))
}

// SetStorageReserved sets the reserved bytes gauge.
func SetStorageReserved(n int64) {
	storageReserved.Set(float64(n))
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request metrics labelled by chi route pattern, so
// client paths never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
