// Package metrics exposes Prometheus collectors for the scheduler and executor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of one engine instance. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	processes    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	scenarios    *prometheus.CounterVec
	queueLength  prometheus.Gauge
	runningGauge prometheus.Gauge
	ticks        *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labflow_processes_settled_total",
				Help: "Total number of processes that reached a terminal status",
			},
			[]string{"typing", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labflow_task_duration_seconds",
				Help:    "Duration of task executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"typing"},
		),
		scenarios: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labflow_scenario_runs_total",
				Help: "Total number of finished scenario runs by final status",
			},
			[]string{"status"},
		),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labflow_queue_length",
			Help: "Number of jobs waiting in the queue",
		}),
		runningGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labflow_scenarios_running",
			Help: "Number of scenarios running on this host",
		}),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labflow_queue_ticks_total",
				Help: "Queue ticks by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(m.processes, m.taskDuration, m.scenarios, m.queueLength, m.runningGauge, m.ticks)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ProcessSettled(typing, status string) {
	if m == nil {
		return
	}

	m.processes.WithLabelValues(typing, status).Inc()
}

func (m *Metrics) TaskDuration(typing string, d time.Duration) {
	if m == nil {
		return
	}

	m.taskDuration.WithLabelValues(typing).Observe(d.Seconds())
}

func (m *Metrics) ScenarioFinished(status string) {
	if m == nil {
		return
	}

	m.scenarios.WithLabelValues(status).Inc()
}

func (m *Metrics) QueueLength(n int) {
	if m == nil {
		return
	}

	m.queueLength.Set(float64(n))
}

func (m *Metrics) RunningAdd(delta int) {
	if m == nil {
		return
	}

	m.runningGauge.Add(float64(delta))
}

// Tick counts a queue tick outcome: "admitted", "idle", "skipped", "locked" or "fault".
func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}

	m.ticks.WithLabelValues(outcome).Inc()
}
