// Package metrics exposes ingestion counters and run durations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

const namespace = "contentingestor"

// Recorder implements ports.Recorder on a private registry so several instances can coexist.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	itemsTotal  *prometheus.CounterVec
}

var _ ports.Recorder = (*Recorder)(nil)

// NewRecorder registers the ingestion metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Ingestion runs by platform and final state",
			},
			[]string{"platform", "state"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of ingestion runs in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"platform"},
		),
		itemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Items seen by ingestion runs, by outcome",
			},
			[]string{"platform", "outcome"},
		),
	}
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(platform domain.Platform, state string, elapsed time.Duration) {
	r.runsTotal.WithLabelValues(string(platform), state).Inc()
	r.runDuration.WithLabelValues(string(platform)).Observe(elapsed.Seconds())
}

// AddItems adds n items with the given outcome (accepted, duplicate, low_score, ...).
func (r *Recorder) AddItems(platform domain.Platform, outcome string, n int) {
	if n <= 0 {
		return
	}
	r.itemsTotal.WithLabelValues(string(platform), outcome).Add(float64(n))
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
