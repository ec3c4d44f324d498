// Package metrics exposes the agent's Prometheus metrics.
//
// Both the dispatch loop and the periodic tasker write to a Registry; the collectors are
// internally synchronized.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/guest-agent/pkg/status"
)

const namespace = "guest_agent"

// Refresh results.
const (
	RefreshOK    = "ok"
	RefreshError = "error"
)

// Registry holds all agent metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	RefreshTotal    *prometheus.CounterVec
	StatusState     prometheus.Gauge
	LastRefresh     prometheus.Gauge
}

// NewRegistry creates the metrics and registers them with runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from dispatch to response, by method.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
		}, []string{"method"}),
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_refresh_total",
			Help:      "Status refreshes, by result.",
		}, []string{"result"}),
		StatusState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_state",
			Help:      "Last reported power state of the database server.",
		}),
		LastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful status refresh.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.CommandsTotal,
		r.CommandDuration,
		r.RefreshTotal,
		r.StatusState,
		r.LastRefresh,
	)
	return r
}

// ObserveCommand implements dispatcher.Observer.
func (r *Registry) ObserveCommand(method, outcome string, elapsed time.Duration) {
	r.CommandsTotal.WithLabelValues(method, outcome).Inc()
	r.CommandDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveRefresh implements status.RefreshObserver.
func (r *Registry) ObserveRefresh(rec *status.Record, err error) {
	if err != nil {
		r.RefreshTotal.WithLabelValues(RefreshError).Inc()
		return
	}
	r.RefreshTotal.WithLabelValues(RefreshOK).Inc()
	if rec != nil {
		r.StatusState.Set(float64(rec.State))
		r.LastRefresh.Set(float64(rec.ObservedAt.Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
