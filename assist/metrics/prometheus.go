// Package metrics provides Prometheus metrics export for the assistant engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitrineai/vitrine/assist/stream"
)

// Exporter exports engine metrics in Prometheus format. It implements
// stream.Observer so the controller can report lifecycle transitions.
type Exporter struct {
	registry *prometheus.Registry

	streamsStarted  prometheus.Counter
	streamsFinished *prometheus.CounterVec
	watchdogFirings *prometheus.CounterVec
	searchesFired   prometheus.Counter
	turnDuration    prometheus.Histogram
}

// NewExporter creates an exporter backed by its own registry.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		streamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitrine_streams_started_total",
			Help: "Turn streams opened.",
		}),
		streamsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitrine_streams_finished_total",
			Help: "Turn streams finished, by terminal state.",
		}, []string{"state"}),
		watchdogFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitrine_watchdog_firings_total",
			Help: "Safety watchdog firings, by stage.",
		}, []string{"stage"}),
		searchesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitrine_searches_fired_total",
			Help: "Product searches fired (speculative or done-fallback).",
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitrine_turn_duration_seconds",
			Help:    "Wall time from turn submit to final assistant message.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}),
	}

	registry.MustRegister(
		e.streamsStarted,
		e.streamsFinished,
		e.watchdogFirings,
		e.searchesFired,
		e.turnDuration,
	)
	return e
}

// StreamStarted implements stream.Observer.
func (e *Exporter) StreamStarted() {
	e.streamsStarted.Inc()
}

// StreamFinished implements stream.Observer.
func (e *Exporter) StreamFinished(state stream.State) {
	e.streamsFinished.WithLabelValues(state.String()).Inc()
}

// WatchdogFired implements stream.Observer.
func (e *Exporter) WatchdogFired(stage int) {
	label := "filler"
	if stage > 1 {
		label = "force_complete"
	}
	e.watchdogFirings.WithLabelValues(label).Inc()
}

// SearchFired records one product search execution.
func (e *Exporter) SearchFired() {
	e.searchesFired.Inc()
}

// ObserveTurn records the duration of one completed turn.
func (e *Exporter) ObserveTurn(d time.Duration) {
	e.turnDuration.Observe(d.Seconds())
}

// Handler returns the scrape endpoint handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
