// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Chain metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCRetries     *prometheus.CounterVec
	RPCErrors      *prometheus.CounterVec
	ChunksScanned  prometheus.Counter
	LogsFetched    *prometheus.CounterVec
	HeadBlock      prometheus.Gauge
	WSReconnects   prometheus.Counter

	// Ingestion metrics
	PositionsDiscovered prometheus.Counter
	OperationsObserved  *prometheus.CounterVec
	OperationsRecorded  prometheus.Counter
	OperationsDuplicate prometheus.Counter
	IngestionAnomalies  *prometheus.CounterVec

	// Valuation and pricing metrics
	ValuationFailures *prometheus.CounterVec
	PriceLookups      *prometheus.CounterVec
	PriceCacheHits    *prometheus.CounterVec

	// Aggregation metrics
	SnapshotsWritten prometheus.Counter
	PositionsClosed  prometheus.Counter

	// Cycle metrics
	CycleRunsTotal  *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	CheckpointBlock *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lp_pnl_tracker"
	}

	return &Metrics{
		// Chain metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "RPC call latency in seconds, including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_retries_total",
			Help:      "Total number of retried RPC attempts",
		}, []string{"method"}),
		RPCErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_errors_total",
			Help:      "Total number of RPC calls that failed after retries",
		}, []string{"method"}),
		ChunksScanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "log_chunks_scanned_total",
			Help:      "Total number of block-range chunks queried for logs",
		}),
		LogsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "logs_fetched_total",
			Help:      "Total number of logs fetched by event",
		}, []string{"event"}),
		HeadBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "head_block",
			Help:      "Latest block number seen",
		}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "ws_reconnects_total",
			Help:      "Total number of head subscription reconnects",
		}),

		// Ingestion metrics
		PositionsDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "positions_discovered_total",
			Help:      "Total number of new positions stored",
		}),
		OperationsObserved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "operations_observed_total",
			Help:      "Total number of decoded operations by type",
		}, []string{"op_type"}),
		OperationsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "operations_recorded_total",
			Help:      "Total number of ledger rows written",
		}),
		OperationsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "operations_duplicate_total",
			Help:      "Total number of already-recorded operations skipped",
		}),
		IngestionAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "anomalies_total",
			Help:      "Total number of skipped events by reason",
		}, []string{"reason"}),

		// Valuation and pricing metrics
		ValuationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "failures_total",
			Help:      "Total number of zero-valued placeholders returned by reason",
		}, []string{"reason"}),
		PriceLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "lookups_total",
			Help:      "Total number of price oracle lookups by kind and result",
		}, []string{"kind", "result"}),
		PriceCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "cache_hits_total",
			Help:      "Total number of price lookups served from cache",
		}, []string{"kind"}),

		// Aggregation metrics
		SnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "snapshots_written_total",
			Help:      "Total number of strategy snapshots upserted",
		}),
		PositionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "positions_closed_total",
			Help:      "Total number of positions observed transitioning to closed",
		}),

		// Cycle metrics
		CycleRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of scan cycles by instance and status",
		}, []string{"instance", "status"}),
		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Scan cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"instance"}),
		CheckpointBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "checkpoint_block",
			Help:      "Last checkpointed block per instance",
		}, []string{"instance"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"store", "operation"}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful scan cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCCall records latency of an RPC call and whether it ultimately failed.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCErrors.WithLabelValues(method).Inc()
	}
}

// RecordRPCRetry increments the retried attempts counter.
func RecordRPCRetry(method string) {
	DefaultMetrics.RPCRetries.WithLabelValues(method).Inc()
}

// RecordChunkScanned records one chunk query and the logs it returned.
func RecordChunkScanned(event string, logs int) {
	DefaultMetrics.ChunksScanned.Inc()
	DefaultMetrics.LogsFetched.WithLabelValues(event).Add(float64(logs))
}

// UpdateHeadBlock updates the head block gauge.
func UpdateHeadBlock(block uint64) {
	DefaultMetrics.HeadBlock.Set(float64(block))
}

// RecordWSReconnect increments the websocket reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordPositionDiscovered increments the positions discovered counter.
func RecordPositionDiscovered() {
	DefaultMetrics.PositionsDiscovered.Inc()
}

// RecordOperationObserved counts one decoded operation.
func RecordOperationObserved(opType string) {
	DefaultMetrics.OperationsObserved.WithLabelValues(opType).Inc()
}

// RecordOperations records the outcome of one ledger batch.
func RecordOperations(inserted, duplicates int) {
	DefaultMetrics.OperationsRecorded.Add(float64(inserted))
	DefaultMetrics.OperationsDuplicate.Add(float64(duplicates))
}

// RecordAnomaly records a skipped event.
func RecordAnomaly(reason string) {
	DefaultMetrics.IngestionAnomalies.WithLabelValues(reason).Inc()
}

// RecordValuationFailure records a zero-valued valuation placeholder.
func RecordValuationFailure(reason string) {
	DefaultMetrics.ValuationFailures.WithLabelValues(reason).Inc()
}

// RecordPriceLookup records a price oracle call outcome.
func RecordPriceLookup(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.PriceLookups.WithLabelValues(kind, result).Inc()
}

// RecordPriceCacheHit records a price served from cache.
func RecordPriceCacheHit(kind string) {
	DefaultMetrics.PriceCacheHits.WithLabelValues(kind).Inc()
}

// RecordSnapshotWritten increments the snapshots written counter.
func RecordSnapshotWritten() {
	DefaultMetrics.SnapshotsWritten.Inc()
}

// RecordPositionClosed increments the positions closed counter.
func RecordPositionClosed() {
	DefaultMetrics.PositionsClosed.Inc()
}

// RecordCycle records a scan cycle outcome for an instance.
func RecordCycle(instance, status string, durationSeconds float64) {
	DefaultMetrics.CycleRunsTotal.WithLabelValues(instance, status).Inc()
	DefaultMetrics.CycleDuration.WithLabelValues(instance).Observe(durationSeconds)
}

// UpdateCheckpoint updates the checkpoint gauge for an instance.
func UpdateCheckpoint(instance string, block uint64) {
	DefaultMetrics.CheckpointBlock.WithLabelValues(instance).Set(float64(block))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(store, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(store, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(store, operation).Inc()
	}
}

// MarkCycleSuccess sets the last successful cycle timestamp.
func MarkCycleSuccess(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulCycle.Set(float64(unixSeconds))
}
