package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IndexerMetrics belongs to the one-shot indexer, which has no scrape
// endpoint and writes its registry to a node-exporter textfile instead.
type IndexerMetrics struct {
	registry *prometheus.Registry

	partitionsTotal   *prometheus.CounterVec
	partitionDuration *prometheus.HistogramVec
	chunksTotal       *prometheus.CounterVec
	failedFilesTotal  *prometheus.CounterVec
	lastSuccess       *prometheus.GaugeVec

	*dependencyMetrics
}

func NewIndexerMetrics() *IndexerMetrics {
	registry := prometheus.NewRegistry()

	partitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "partitions_total",
			Help:      "Partition rebuilds by status.",
		},
		[]string{"partition", "status"},
	)
	partitionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "partition_duration_seconds",
			Help:      "Partition rebuild duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"partition"},
	)
	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "chunks_total",
			Help:      "Chunks written per partition.",
		},
		[]string{"partition"},
	)
	failedFilesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "failed_files_total",
			Help:      "Source files that could not be extracted.",
		},
		[]string{"partition"},
	)
	lastSuccess := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful partition rebuild.",
		},
		[]string{"partition"},
	)

	registry.MustRegister(partitionsTotal, partitionDuration, chunksTotal, failedFilesTotal, lastSuccess)
	dependencies := newDependencyMetrics()
	dependencies.register(registry)

	return &IndexerMetrics{
		registry:          registry,
		partitionsTotal:   partitionsTotal,
		partitionDuration: partitionDuration,
		chunksTotal:       chunksTotal,
		failedFilesTotal:  failedFilesTotal,
		lastSuccess:       lastSuccess,
		dependencyMetrics: dependencies,
	}
}

func (m *IndexerMetrics) RecordPartition(partition string, chunks, failedFiles int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.partitionsTotal.WithLabelValues(partition, status).Inc()
	m.partitionDuration.WithLabelValues(partition).Observe(duration.Seconds())
	if failedFiles > 0 {
		m.failedFilesTotal.WithLabelValues(partition).Add(float64(failedFiles))
	}
	if err == nil {
		m.chunksTotal.WithLabelValues(partition).Add(float64(chunks))
		m.lastSuccess.WithLabelValues(partition).SetToCurrentTime()
	}
}

// WriteTextfile does nothing when path is empty.
func (m *IndexerMetrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
