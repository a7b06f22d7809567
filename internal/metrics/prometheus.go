package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the standings sync worker

var (
	// Remote API metrics, both the stats API and the workspace API
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_api_calls_total",
			Help: "Total number of remote API calls",
		},
		[]string{"client", "endpoint", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "f1sync_api_call_duration_seconds",
			Help:    "Duration of remote API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "endpoint"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_http_retries_total",
			Help: "Total number of retried HTTP requests",
		},
		[]string{"client", "reason"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "f1sync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// Database metrics
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "table", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "f1sync_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "f1sync_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "f1sync_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "f1sync_cache_operation_duration_seconds",
			Help:    "Duration of cache operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Standings metrics
	RoundFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_round_fetch_failures_total",
			Help: "Total number of rounds treated as not happened because of a fetch failure",
		},
		[]string{"kind", "source"},
	)

	CompletedRounds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "f1sync_completed_rounds",
			Help: "Number of rounds with data in the last aggregation",
		},
		[]string{"kind"},
	)

	// Remote write metrics
	RemoteWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_remote_writes_total",
			Help: "Total number of remote page writes",
		},
		[]string{"job", "operation", "status"},
	)

	LookupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_lookup_failures_total",
			Help: "Total number of unresolved entity or round references",
		},
		[]string{"job", "ref"},
	)

	// Sync metrics
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_sync_operations_total",
			Help: "Total number of sync job runs",
		},
		[]string{"job", "status"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "f1sync_sync_duration_seconds",
			Help:    "Duration of sync job runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "f1sync_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "f1sync_system_uptime_seconds",
			Help: "System uptime in seconds",
		},
	)

	LastSuccessfulSync = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "f1sync_last_successful_sync_timestamp",
			Help: "Timestamp of last successful sync operation",
		},
	)
)

// RecordAPICall records a remote API call metric
func RecordAPICall(client, endpoint, status string, duration float64) {
	APICallsTotal.WithLabelValues(client, endpoint, status).Inc()
	APICallDuration.WithLabelValues(client, endpoint).Observe(duration)
}

// RecordRetry records one retried request
func RecordRetry(client, reason string) {
	RetriesTotal.WithLabelValues(client, reason).Inc()
}

// SetBreakerState records the current circuit breaker state
func SetBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table, status string, duration float64) {
	DBQueriesTotal.WithLabelValues(operation, table, status).Inc()
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration)
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cache string) {
	CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cache string) {
	CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordCacheOperation records a cache operation duration
func RecordCacheOperation(operation string, duration float64) {
	CacheOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRoundFailure records a round dropped from aggregation
func RecordRoundFailure(kind, source string) {
	RoundFetchFailures.WithLabelValues(kind, source).Inc()
}

// SetCompletedRounds records how many rounds had data
func SetCompletedRounds(kind string, n int) {
	CompletedRounds.WithLabelValues(kind).Set(float64(n))
}

// RecordRemoteWrite records a page insert, update or archive
func RecordRemoteWrite(job, operation, status string) {
	RemoteWritesTotal.WithLabelValues(job, operation, status).Inc()
}

// RecordLookupFailure records an unresolved reference
func RecordLookupFailure(job, ref string) {
	LookupFailuresTotal.WithLabelValues(job, ref).Inc()
}

// RecordSync records a sync job run
func RecordSync(job, status string, duration float64) {
	SyncOperationsTotal.WithLabelValues(job, status).Inc()
	SyncDuration.WithLabelValues(job).Observe(duration)

	if status == "success" {
		LastSuccessfulSync.SetToCurrentTime()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(active, idle int32) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}
