// Package metrics exposes engine and monitor counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayswitch"

// Recorder holds the collectors on a private registry. A nil *Recorder
// accepts every call and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	observations    *prometheus.CounterVec
	switches        *prometheus.CounterVec
	recommendations *prometheus.CounterVec
	score           *prometheus.GaugeVec
	pruned          prometheus.Counter
}

// New registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// Labels: group, service, result (success, failure)
		observations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Observations recorded by the engine",
		}, []string{"group", "service", "result"}),

		switches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switches_total",
			Help:      "Relay switches performed by the monitor",
		}, []string{"group", "service"}),

		// Labels: group, service, result (recommended, none)
		recommendations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Recommendation requests served",
		}, []string{"group", "service", "result"}),

		score: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reliability_score",
			Help:      "Latest reliability score per relay",
		}, []string{"group", "service", "relay"}),

		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_records_total",
			Help:      "History records removed by pruning",
		}),
	}
}

// Observation counts one recorded observation and updates the relay gauge.
func (r *Recorder) Observation(group, service, relay string, success bool, score float64) {
	if r == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	r.observations.WithLabelValues(group, service, result).Inc()
	r.score.WithLabelValues(group, service, relay).Set(score)
}

// Switch counts one relay switch.
func (r *Recorder) Switch(group, service string) {
	if r == nil {
		return
	}
	r.switches.WithLabelValues(group, service).Inc()
}

// Recommendation counts one recommendation request.
func (r *Recorder) Recommendation(group, service string, found bool) {
	if r == nil {
		return
	}
	result := "none"
	if found {
		result = "recommended"
	}
	r.recommendations.WithLabelValues(group, service, result).Inc()
}

// Pruned adds n removed records.
func (r *Recorder) Pruned(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.pruned.Add(float64(n))
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
