package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	UploadsTotal          *prometheus.CounterVec
	UploadBytes           prometheus.Counter
	BulkBatchesStarted    prometheus.Counter
	BatchStatusPolls      prometheus.Counter
	TokensIssued          prometheus.Counter
	RateLimitRejections   *prometheus.CounterVec
	UpstreamLatency       *prometheus.HistogramVec
	CleanupRunsTotal      *prometheus.CounterVec
	CleanupEntriesRemoved prometheus.Counter
	CleanupDuration       prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pixgate_uploads_total",
			Help: "Total upload requests, labeled by mode (single/bulk) and outcome",
		}, []string{"mode", "outcome"}),
		UploadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixgate_upload_bytes_total",
			Help: "Total bytes accepted for forwarding upstream",
		}),
		BulkBatchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixgate_bulk_batches_started_total",
			Help: "Total bulk batches handed to the upstream host",
		}),
		BatchStatusPolls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixgate_batch_status_polls_total",
			Help: "Total batch status polls proxied upstream",
		}),
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixgate_capability_tokens_issued_total",
			Help: "Total capability tokens issued for direct uploads",
		}),
		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pixgate_rate_limit_rejections_total",
			Help: "Total requests rejected by the rate limiter, labeled by key class",
		}, []string{"key_class"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixgate_upstream_request_duration_seconds",
			Help:    "Latency of calls to the image host, labeled by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		CleanupRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pixgate_ratelimit_cleanup_runs_total",
			Help: "Total rate limit sweep runs",
		}, []string{"status"}),
		CleanupEntriesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixgate_ratelimit_cleanup_entries_removed_total",
			Help: "Total expired rate limit entries removed by the sweeper",
		}),
		CleanupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "pixgate_ratelimit_cleanup_duration_seconds",
			Help: "Duration of rate limit sweep runs in seconds",
		}),
	}
}

func (m *Metrics) IncrementUploads(mode, outcome string) {
	m.UploadsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) AddUploadBytes(n int64) {
	m.UploadBytes.Add(float64(n))
}

func (m *Metrics) IncrementRateLimitRejections(keyClass string) {
	m.RateLimitRejections.WithLabelValues(keyClass).Inc()
}

func (m *Metrics) ObserveUpstreamLatency(operation string, seconds float64) {
	m.UpstreamLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) IncrementCleanupRuns(status string) {
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AddCleanupEntriesRemoved(n int) {
	m.CleanupEntriesRemoved.Add(float64(n))
}

func (m *Metrics) ObserveCleanupDuration(seconds float64) {
	m.CleanupDuration.Observe(seconds)
}
