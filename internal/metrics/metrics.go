// Package metrics exposes operational counters for the prediction engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scoring path label values.
const (
	PathModel    = "model"
	PathFallback = "fallback"
	PathNewUser  = "new_user"
)

// Metrics bundles the engine's Prometheus collectors on a private registry
// so tests can instantiate it repeatedly.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	ModelReloads        prometheus.Counter
	PersistFailures     prometheus.Counter
	EnsemblePredictions prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "churnwatch_prediction_runs_total",
			Help: "Prediction runs by scoring path.",
		}, []string{"path"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "churnwatch_prediction_run_seconds",
			Help:    "Wall time of orchestrated prediction runs.",
			Buckets: prometheus.DefBuckets,
		}),
		ModelReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "churnwatch_model_reloads_total",
			Help: "Times the tree model cache was invalidated by the file watcher.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "churnwatch_persist_failures_total",
			Help: "Failed writes of prediction outcomes.",
		}),
		EnsemblePredictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "churnwatch_ensemble_predictions_total",
			Help: "Statistical ensemble predictions served.",
		}),
	}
	reg.MustRegister(m.RunsTotal, m.RunDuration, m.ModelReloads, m.PersistFailures, m.EnsemblePredictions)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
