// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportsTotal tracks completed import runs by outcome
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Total number of import runs by outcome",
		},
		[]string{"tenant_id", "format", "status"},
	)

	// ImportDuration tracks import run duration in seconds
	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "run_duration_seconds",
			Help:      "Duration of import runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"tenant_id", "format"},
	)

	// RowsTotal tracks processed rows by outcome
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of rows processed by outcome",
		},
		[]string{"tenant_id", "target_table", "outcome"},
	)

	// ChunksCommittedTotal tracks committed chunks
	ChunksCommittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "chunks_committed_total",
			Help:      "Total number of chunks committed",
		},
		[]string{"tenant_id", "target_table"},
	)

	// FilesRegisteredTotal tracks file registrations by fingerprint outcome
	FilesRegisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "files",
			Name:      "registered_total",
			Help:      "Total number of file registrations by fingerprint outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// ResolutionsTotal tracks duplicate and validation resolutions
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolution",
			Name:      "resolutions_total",
			Help:      "Total number of duplicate and validation resolutions by action",
		},
		[]string{"tenant_id", "kind", "action"},
	)

	// ArchiveEntriesTotal tracks archive entries by outcome
	ArchiveEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "archive",
			Name:      "entries_total",
			Help:      "Total number of archive entries processed by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// QueueJobsPublished tracks jobs submitted to the queue
	QueueJobsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "jobs_published_total",
			Help:      "Total number of jobs submitted to the queue",
		},
		[]string{"trigger"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"tenant_id", "reason"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordImport records an import run metric
func RecordImport(tenantID, format, status string, durationSeconds float64) {
	ImportsTotal.WithLabelValues(tenantID, format, status).Inc()
	ImportDuration.WithLabelValues(tenantID, format).Observe(durationSeconds)
}

// RecordRows records processed rows for one outcome
func RecordRows(tenantID, targetTable, outcome string, count int) {
	if count <= 0 {
		return
	}
	RowsTotal.WithLabelValues(tenantID, targetTable, outcome).Add(float64(count))
}

// RecordChunkCommitted records a committed chunk
func RecordChunkCommitted(tenantID, targetTable string) {
	ChunksCommittedTotal.WithLabelValues(tenantID, targetTable).Inc()
}

// RecordFileRegistered records a file registration outcome
func RecordFileRegistered(tenantID, outcome string) {
	FilesRegisteredTotal.WithLabelValues(tenantID, outcome).Inc()
}

// RecordResolution records a duplicate or validation resolution
func RecordResolution(tenantID, kind, action string) {
	ResolutionsTotal.WithLabelValues(tenantID, kind, action).Inc()
}

// RecordArchiveEntry records an archive entry outcome
func RecordArchiveEntry(tenantID, outcome string) {
	ArchiveEntriesTotal.WithLabelValues(tenantID, outcome).Inc()
}

// RecordQueueJobPublished records a job submitted to the queue
func RecordQueueJobPublished(trigger string) {
	QueueJobsPublished.WithLabelValues(trigger).Inc()
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(tenantID, reason string) {
	DLQJobsTotal.WithLabelValues(tenantID, reason).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
