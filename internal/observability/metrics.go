package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	memoWritesTotal    *prometheus.CounterVec
	memoWriteDuration  *prometheus.HistogramVec
	vectorWriteErrors  prometheus.Counter
	sideEffectErrors   *prometheus.CounterVec
	searchDuration     prometheus.Histogram
	searchResultsTotal prometheus.Histogram
	migrationsApplied  *prometheus.CounterVec
	migrationFailures  *prometheus.CounterVec
	reconcilerRepairs  *prometheus.CounterVec
	embeddingCacheHits *prometheus.CounterVec
	embeddingDuration  prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			memoWritesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memo_writes_total",
					Help: "Total memo write operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			memoWriteDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memo_write_duration_seconds",
					Help:    "Memo write duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			vectorWriteErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "vector_write_errors_total",
					Help: "Vector store writes that failed after the relational commit.",
				},
			),
			sideEffectErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "side_effect_errors_total",
					Help: "Swallowed best-effort side effect failures by kind.",
				},
				[]string{"kind"},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "search_duration_seconds",
					Help:    "Vector search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			searchResultsTotal: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "search_results",
					Help:    "Number of items returned per search page.",
					Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
				},
			),
			migrationsApplied: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "migrations_applied_total",
					Help: "Migrations applied successfully by table.",
				},
				[]string{"table"},
			),
			migrationFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "migration_failures_total",
					Help: "Migration apply failures by table.",
				},
				[]string{"table"},
			),
			reconcilerRepairs: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reconciler_repairs_total",
					Help: "Reconciler repair actions by kind.",
				},
				[]string{"kind"},
			),
			embeddingCacheHits: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedding_cache_total",
					Help: "Embedding cache lookups by outcome.",
				},
				[]string{"outcome"},
			),
			embeddingDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "embedding_duration_seconds",
					Help:    "Embedding generation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.memoWritesTotal,
			m.memoWriteDuration,
			m.vectorWriteErrors,
			m.sideEffectErrors,
			m.searchDuration,
			m.searchResultsTotal,
			m.migrationsApplied,
			m.migrationFailures,
			m.reconcilerRepairs,
			m.embeddingCacheHits,
			m.embeddingDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from multiple
// packages; registration happens once.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns the HTTP handler exposing prometheus metrics.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordMemoWrite records a memo write operation outcome.
func RecordMemoWrite(op, status string, d time.Duration) {
	m := getMetrics()
	m.memoWritesTotal.WithLabelValues(op, status).Inc()
	m.memoWriteDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordVectorWriteError records a vector write failure after a relational commit.
func RecordVectorWriteError() {
	getMetrics().vectorWriteErrors.Inc()
}

// RecordSideEffectError records a swallowed side effect failure.
func RecordSideEffectError(kind string) {
	getMetrics().sideEffectErrors.WithLabelValues(kind).Inc()
}

// RecordSearch records a search operation.
func RecordSearch(d time.Duration, results int) {
	m := getMetrics()
	m.searchDuration.Observe(d.Seconds())
	m.searchResultsTotal.Observe(float64(results))
}

// RecordMigrationApplied records a successful migration apply.
func RecordMigrationApplied(table string) {
	getMetrics().migrationsApplied.WithLabelValues(table).Inc()
}

// RecordMigrationFailure records a failed migration apply.
func RecordMigrationFailure(table string) {
	getMetrics().migrationFailures.WithLabelValues(table).Inc()
}

// RecordReconcilerRepair records a reconciler repair action.
func RecordReconcilerRepair(kind string) {
	getMetrics().reconcilerRepairs.WithLabelValues(kind).Inc()
}

// RecordEmbeddingCache records an embedding cache lookup outcome.
func RecordEmbeddingCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	getMetrics().embeddingCacheHits.WithLabelValues(outcome).Inc()
}

// RecordEmbedding records embedding generation duration.
func RecordEmbedding(d time.Duration) {
	getMetrics().embeddingDuration.Observe(d.Seconds())
}
