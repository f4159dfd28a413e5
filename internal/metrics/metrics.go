package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restock_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restock_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	subscriptionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restock_subscriptions_total",
			Help: "Subscription upsert outcomes (created, reactivated, already_active)",
		},
		[]string{"outcome"},
	)

	subscriptionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restock_subscriptions_rejected_total",
			Help: "Subscription requests rejected by the validator, by reason",
		},
		[]string{"reason"},
	)

	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restock_notification_jobs_total",
			Help: "Notification job scheduling outcomes (enqueued, deduped)",
		},
		[]string{"outcome"},
	)

	jobsStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restock_notification_jobs_stale_total",
			Help: "Jobs skipped because the product was no longer in a trigger state",
		},
	)

	emailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restock_emails_total",
			Help: "Notification email delivery results (sent, failed)",
		},
		[]string{"result"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "restock_batch_duration_seconds",
			Help:    "Wall-clock time per notification batch invocation",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	unsubscribes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restock_unsubscribes_total",
			Help: "Completed unsubscribe confirmations",
		},
	)

	cleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restock_cleanup_deleted_total",
			Help: "Notified subscriptions removed by the retention sweep",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubscription records a subscription upsert outcome.
func RecordSubscription(outcome string) {
	subscriptionsCreated.WithLabelValues(outcome).Inc()
}

// RecordRejection records a validator rejection by reason code.
func RecordRejection(reason string) {
	subscriptionsRejected.WithLabelValues(reason).Inc()
}

// RecordJobEnqueued records whether a notification job was scheduled or deduped.
func RecordJobEnqueued(outcome string) {
	jobsEnqueued.WithLabelValues(outcome).Inc()
}

// RecordStaleJob records a job that found its product out of stock again.
func RecordStaleJob() {
	jobsStale.Inc()
}

// RecordEmail records a single notification email result.
func RecordEmail(result string) {
	emailsSent.WithLabelValues(result).Inc()
}

// RecordBatchDuration records how long one batch invocation took.
func RecordBatchDuration(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

// RecordUnsubscribe records a completed unsubscribe.
func RecordUnsubscribe() {
	unsubscribes.Inc()
}

// RecordCleanup records rows deleted by the retention sweep.
func RecordCleanup(count int64) {
	cleanupDeleted.Add(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
