// Package metrics provides Prometheus instrumentation for riskwatch.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Store metrics ---

	// StoreCorruptRecords counts stored values that could not be decoded.
	StoreCorruptRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Subsystem: "kvstore",
			Name:      "corrupt_records_total",
			Help:      "Stored values skipped because they could not be decoded, by set.",
		},
		[]string{"set"},
	)

	// StoreOpsTotal counts key-value store operations by op, set and result.
	StoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Subsystem: "kvstore",
			Name:      "ops_total",
			Help:      "Total key-value store operations by op, set, and result.",
		},
		[]string{"op", "set", "result"},
	)

	// StoreOpDuration observes store round-trip latency.
	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskwatch",
			Subsystem: "kvstore",
			Name:      "op_duration_seconds",
			Help:      "Key-value store operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	// --- Job metrics ---

	// JobRunsTotal counts job executions by type and final status.
	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total job runs by type and status.",
		},
		[]string{"job_type", "status"},
	)

	// JobDuration observes job wall time.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskwatch",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job_type"},
	)

	// EntitiesProcessedTotal counts entities a job produced output for.
	EntitiesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Subsystem: "jobs",
			Name:      "entities_processed_total",
			Help:      "Total entities processed by kind (account, device, user).",
		},
		[]string{"kind"},
	)

	// EntityErrorsTotal counts per-entity compute errors.
	EntityErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Subsystem: "jobs",
			Name:      "entity_errors_total",
			Help:      "Total per-entity errors by kind.",
		},
		[]string{"kind"},
	)

	// WriteFailuresTotal counts records a batch write did not persist.
	WriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Subsystem: "jobs",
			Name:      "write_failures_total",
			Help:      "Total records not persisted by a batch write, by set.",
		},
		[]string{"set"},
	)

	// UsersFlaggedTotal counts users moved to pending review.
	UsersFlaggedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "detection",
		Name:      "users_flagged_total",
		Help:      "Total users flagged for review by the detection job.",
	})

	// JobRunning is 1 while a job holds the runner.
	JobRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Whether a job is currently running.",
	})

	// ConfigVersion tracks the active risk configuration version.
	ConfigVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Name:      "risk_config_version",
		Help:      "Version of the active risk configuration.",
	})

	// BreakerTransitions counts store circuit breaker state changes.
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
	}, []string{"key", "from_state", "to_state"})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StoreOpsTotal,
		StoreOpDuration,
		StoreCorruptRecords,
		JobRunsTotal,
		JobDuration,
		EntitiesProcessedTotal,
		EntityErrorsTotal,
		WriteFailuresTotal,
		UsersFlaggedTotal,
		JobRunning,
		ConfigVersion,
		BreakerTransitions,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitCount,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
