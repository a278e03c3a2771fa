// Package metrics collects run counters for both pipelines. Runs are short
// lived, so nothing is served over HTTP: the registry is written to a file
// in the Prometheus text format for the node_exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "frameprep"

// Metrics holds the counters of a single run. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	VideosProcessed prometheus.Counter
	VideosSkipped   prometheus.Counter
	FramesSaved     prometheus.Counter
	FramesFailed    prometheus.Counter

	ImagesScanned    prometheus.Counter
	ImagesScanFailed prometheus.Counter
	PairsCompared    prometheus.Counter
	PairsSkipped     prometheus.Counter
	ImagesDeleted    prometheus.Counter
	DeleteFailed     prometheus.Counter
	SimilarityScores prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		VideosProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sampler", Name: "videos_processed_total",
			Help: "Videos whose frame count could be read.",
		}),
		VideosSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sampler", Name: "videos_skipped_total",
			Help: "Videos skipped because they could not be opened or reported no frames.",
		}),
		FramesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sampler", Name: "frames_saved_total",
			Help: "Frames written to the output directory.",
		}),
		FramesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sampler", Name: "frames_failed_total",
			Help: "Scheduled frames that could not be read or written.",
		}),
		ImagesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dedupe", Name: "images_scanned_total",
			Help: "Images decoded and fingerprinted.",
		}),
		ImagesScanFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dedupe", Name: "images_scan_failed_total",
			Help: "Images excluded because they could not be decoded.",
		}),
		PairsCompared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dedupe", Name: "pairs_compared_total",
			Help: "Pairs evaluated with structural similarity.",
		}),
		PairsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dedupe", Name: "pairs_skipped_total",
			Help: "Pairs short-circuited by the pre-filter.",
		}),
		ImagesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dedupe", Name: "images_deleted_total",
			Help: "Images removed as near duplicates.",
		}),
		DeleteFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dedupe", Name: "delete_failed_total",
			Help: "Deletions that failed for a reason other than the file being gone.",
		}),
		SimilarityScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dedupe", Name: "similarity_score",
			Help:    "Structural similarity scores of compared pairs.",
			Buckets: []float64{0, 0.5, 0.7, 0.8, 0.85, 0.9, 0.95, 0.98, 0.99, 1},
		}),
	}

	m.registry.MustRegister(
		m.VideosProcessed, m.VideosSkipped, m.FramesSaved, m.FramesFailed,
		m.ImagesScanned, m.ImagesScanFailed, m.PairsCompared, m.PairsSkipped,
		m.ImagesDeleted, m.DeleteFailed, m.SimilarityScores,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
