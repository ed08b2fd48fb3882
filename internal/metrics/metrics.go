package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SegmentsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgparchive_segments_finalized_total",
			Help: "Total MRT segments finalized, by stream.",
		},
		[]string{"stream"},
	)

	SegmentWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgparchive_segment_write_duration_seconds",
			Help:    "Wall time from segment open to finalize, by stream.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"stream"},
	)

	SegmentBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgparchive_segment_bytes",
			Help:    "Finalized segment size in bytes, by stream.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"stream"},
	)

	SegmentRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgparchive_segment_records_total",
			Help: "Total MRT records written to finalized segments, by stream.",
		},
		[]string{"stream"},
	)

	ReplicationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgparchive_replication_outcomes_total",
			Help: "Replication job outcomes, by destination and outcome (succeeded/failed).",
		},
		[]string{"destination", "outcome"},
	)

	ReplicationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bgparchive_replication_queue_depth",
			Help: "Pending and in-progress replication jobs.",
		},
	)

	ReplicationFailedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bgparchive_replication_failed_jobs",
			Help: "Replication jobs that have exhausted their retries.",
		},
	)

	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgparchive_ingest_messages_total",
			Help: "Total ingest records accepted, by source and kind (update/peer_state).",
		},
		[]string{"source", "kind"},
	)

	IngestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgparchive_ingest_errors_total",
			Help: "Ingest failures by source and reason.",
		},
		[]string{"source", "reason"},
	)

	CatalogWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgparchive_catalog_write_duration_seconds",
			Help:    "Segment catalog write latency, by operation.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)
)

// Register registers every collector above with the default Prometheus
// registry. Called once from cmd/bgparchived's serve subcommand; later
// calls are no-ops.
func Register() {
	registerOnce.Do(register)
}

var registerOnce sync.Once

func register() {
	prometheus.MustRegister(
		SegmentsFinalizedTotal,
		SegmentWriteDuration,
		SegmentBytes,
		SegmentRecordsTotal,
		ReplicationOutcomesTotal,
		ReplicationQueueDepth,
		ReplicationFailedJobs,
		IngestMessagesTotal,
		IngestErrorsTotal,
		CatalogWriteDuration,
	)
}
