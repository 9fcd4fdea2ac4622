package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yam_indexer_events_applied_total",
			Help: "Events applied to the database, by event type",
		},
		[]string{"event_type"},
	)

	invalidLogIndexDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yam_indexer_invalid_log_index_dropped_total",
			Help: "Events dropped because of the historical feed's corrupted log index",
		},
	)

	recordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yam_indexer_record_failures_total",
			Help: "Per-record application failures that were skipped",
		},
	)

	fetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yam_indexer_fetch_retries_total",
			Help: "Live fetch retries after a transient failure",
		},
	)

	batchSplits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yam_indexer_batch_splits_total",
			Help: "Backfill batches split into sub-ranges after a timeout",
		},
	)

	endpointRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yam_indexer_endpoint_rotations_total",
			Help: "Round-robin rotations of the RPC endpoint pair",
		},
	)

	endpointCooldowns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yam_indexer_endpoint_cooldowns_total",
			Help: "Cooldown pauses taken after a full cycle of endpoint failures",
		},
	)

	lastIndexedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yam_indexer_last_indexed_block",
			Help: "Highest contiguous block fully indexed",
		},
	)

	chainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yam_indexer_chain_head_block",
			Help: "Chain head as last reported by the primary endpoint",
		},
	)

	backfillRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yam_indexer_backfill_runs_total",
			Help: "Reconciliation runs, full and trailing-window",
		},
	)
)

// EventAppliedInc records one applied event of the given type
func EventAppliedInc(eventType string) { eventsApplied.WithLabelValues(eventType).Inc() }

// InvalidLogIndexInc records one dropped corrupted-log-index record
func InvalidLogIndexInc() { invalidLogIndexDropped.Inc() }

// RecordFailureInc records one skipped per-record application failure
func RecordFailureInc() { recordFailures.Inc() }

// FetchRetryInc records one live fetch retry
func FetchRetryInc() { fetchRetries.Inc() }

// BatchSplitInc records one batch split
func BatchSplitInc() { batchSplits.Inc() }

// EndpointRotationInc records one endpoint rotation
func EndpointRotationInc() { endpointRotations.Inc() }

// EndpointCooldownInc records one exhaustion cooldown
func EndpointCooldownInc() { endpointCooldowns.Inc() }

// SetLastIndexedBlock updates the watermark gauge
func SetLastIndexedBlock(block uint64) { lastIndexedBlock.Set(float64(block)) }

// SetChainHead updates the chain head gauge
func SetChainHead(block uint64) { chainHead.Set(float64(block)) }

// BackfillRunInc records one reconciliation run
func BackfillRunInc() { backfillRuns.Inc() }
