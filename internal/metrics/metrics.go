// Package metrics exposes Prometheus collectors for the ingestion worker.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sweepsTotal           *prometheus.CounterVec
	itemsTotal            *prometheus.CounterVec
	itemsDiscoveredTotal  *prometheus.CounterVec
	jobsDeadLetteredTotal *prometheus.CounterVec
	mediaUploadsTotal     *prometheus.CounterVec
	mediaBytesTotal       prometheus.Counter
	renderDurationSeconds *prometheus.HistogramVec
	activeConsumers       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sweepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_sweeps_total",
				Help: "Total number of sweep jobs processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_items_total",
				Help: "Total number of item jobs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		itemsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_items_discovered_total",
				Help: "Total number of new item ids discovered, labeled by source.",
			},
			[]string{"source"},
		)

		jobsDeadLetteredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_dead_lettered_total",
				Help: "Total number of jobs routed to a dead letter queue, labeled by queue.",
			},
			[]string{"queue"},
		)

		mediaUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_media_uploads_total",
				Help: "Total number of media objects stored, labeled by result.",
			},
			[]string{"result"},
		)

		mediaBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_media_bytes_total",
				Help: "Total bytes of media fetched from origin.",
			},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_render_duration_seconds",
				Help:    "Histogram of page render latencies, labeled by page class.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"page"},
		)

		activeConsumers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_consumers",
				Help: "Number of consumer workers currently processing a job.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSweep increments the sweep counter for the given kind and status.
func ObserveSweep(kind, status string) {
	if sweepsTotal == nil {
		return
	}
	sweepsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveItem increments the item counter for the given outcome.
func ObserveItem(outcome string) {
	if itemsTotal == nil {
		return
	}
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDiscovered adds newly discovered item ids for a source.
func ObserveDiscovered(source string, count int) {
	if itemsDiscoveredTotal == nil {
		return
	}
	if count > 0 {
		itemsDiscoveredTotal.WithLabelValues(source).Add(float64(count))
	}
}

// ObserveDeadLetter increments the dead letter counter for a queue.
func ObserveDeadLetter(queue string) {
	if jobsDeadLetteredTotal == nil {
		return
	}
	jobsDeadLetteredTotal.WithLabelValues(queue).Inc()
}

// ObserveMediaUpload records one media store operation.
func ObserveMediaUpload(result string, bytes int) {
	if mediaUploadsTotal == nil {
		return
	}
	mediaUploadsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		mediaBytesTotal.Add(float64(bytes))
	}
}

// ObserveRender records the duration of one page render.
func ObserveRender(page string, duration time.Duration) {
	if renderDurationSeconds == nil {
		return
	}
	renderDurationSeconds.WithLabelValues(page).Observe(duration.Seconds())
}

// IncActiveConsumers increments the active consumers gauge.
func IncActiveConsumers() {
	if activeConsumers == nil {
		return
	}
	activeConsumers.Inc()
}

// DecActiveConsumers decrements the active consumers gauge.
func DecActiveConsumers() {
	if activeConsumers == nil {
		return
	}
	activeConsumers.Dec()
}
