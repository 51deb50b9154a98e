package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalforge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evalforge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evalforge_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"method"},
	)

	// Mutation metrics
	versionsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalforge_dataset_versions_committed_total",
			Help: "Total number of dataset versions committed by mutation batches",
		},
		[]string{"kind"},
	)

	revisionsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evalforge_example_revisions_appended_total",
			Help: "Total number of example revisions appended",
		},
	)

	// Run ledger metrics
	runsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalforge_experiment_runs_recorded_total",
			Help: "Total number of experiment runs recorded",
		},
		[]string{"status"},
	)

	annotationsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evalforge_run_annotations_recorded_total",
			Help: "Total number of run annotations recorded",
		},
	)

	// Export metrics
	exportJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalforge_export_jobs_total",
			Help: "Total number of experiment export jobs by outcome",
		},
		[]string{"format", "outcome"},
	)

	exportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evalforge_export_duration_seconds",
			Help:    "Experiment export duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format"},
	)
)

// MetricsConfig configures the metrics middleware
type MetricsConfig struct {
	// Skip function
	Skip func(*fiber.Ctx) bool
	// PathNormalizer normalizes paths for metrics labels
	PathNormalizer func(string) string
}

// DefaultMetricsConfig returns default metrics config
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Skip:           HealthSkipper,
		PathNormalizer: DefaultPathNormalizer,
	}
}

// DefaultPathNormalizer normalizes paths for metrics labels. Fiber
// exposes the route pattern via c.Route(), so raw paths only show up
// for unmatched requests.
func DefaultPathNormalizer(path string) string {
	return path
}

// MetricsMiddleware creates a Prometheus metrics middleware
type MetricsMiddleware struct {
	config MetricsConfig
}

// NewMetricsMiddleware creates a new metrics middleware
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	return &MetricsMiddleware{
		config: config,
	}
}

// Handler returns the metrics handler
func (m *MetricsMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.config.Skip != nil && m.config.Skip(c) {
			return c.Next()
		}

		start := time.Now()
		method := c.Method()

		httpActiveRequests.WithLabelValues(method).Inc()
		defer httpActiveRequests.WithLabelValues(method).Dec()

		err := c.Next()

		path := c.Route().Path
		if path == "" || path == "/" {
			path = m.config.PathNormalizer(c.Path())
		}
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// RecordVersionCommitted records a committed mutation batch by revision kind
func RecordVersionCommitted(kind string) {
	versionsCommitted.WithLabelValues(kind).Inc()
}

// RecordRevisionsAppended records appended example revisions
func RecordRevisionsAppended(count int) {
	revisionsAppended.Add(float64(count))
}

// RecordRunRecorded records a run upsert ("success" or "error")
func RecordRunRecorded(status string) {
	runsRecorded.WithLabelValues(status).Inc()
}

// RecordAnnotationRecorded records a run annotation
func RecordAnnotationRecorded() {
	annotationsRecorded.Inc()
}

// RecordExportJob records an export job outcome ("ok" or "error")
func RecordExportJob(format, outcome string) {
	exportJobs.WithLabelValues(format, outcome).Inc()
}

// RecordExportDuration records how long an export job took
func RecordExportDuration(format string, duration time.Duration) {
	exportDuration.WithLabelValues(format).Observe(duration.Seconds())
}
