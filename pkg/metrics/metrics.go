// Package metrics exposes queue and optimization counters to Prometheus.
package metrics

import (
	"net/http"

	"optqueue/internal/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "optqueue"

// Collector derives Prometheus metrics from queue events. It owns its
// registry so several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	evaluations   prometheus.Counter
	newBest       prometheus.Counter
	runDuration   prometheus.Histogram
	tasksActive   prometheus.Gauge
	queueRunning  prometheus.Gauge
}

// NewCollector creates a collector with Go and process collectors registered
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published on the queue bus by type",
		}, []string{"type"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status",
		}, []string{"status"}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Objective evaluations recorded",
		}),
		newBest: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_best_total",
			Help:      "Improvements of a task's best value",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimization_seconds",
			Help:      "Wall time of completed optimization runs",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Tasks currently running or paused",
		}),
		queueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_processing",
			Help:      "1 while the scheduling loop is running",
		}),
	}

	c.registry.MustRegister(
		c.events,
		c.tasksFinished,
		c.evaluations,
		c.newBest,
		c.runDuration,
		c.tasksActive,
		c.queueRunning,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// HandleEvent updates metrics from e; subscribe it to the queue bus
func (c *Collector) HandleEvent(e event.Event) error {
	c.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case event.TaskStarted:
		c.tasksActive.Inc()
	case event.TaskCompleted, event.TaskFailed, event.TaskStopped:
		p, ok := e.Data.(event.TaskPayload)
		if !ok {
			break
		}
		c.tasksFinished.WithLabelValues(string(p.Status)).Inc()
		if p.PreviousStatus.IsActive() {
			c.tasksActive.Dec()
		}
	case event.IterationCompleted:
		c.evaluations.Inc()
	case event.NewBestFound:
		c.newBest.Inc()
	case event.OptimizationCompleted:
		if p, ok := e.Data.(event.CompletionPayload); ok {
			c.runDuration.Observe(p.OptimizationTime)
		}
	case event.QueueStarted:
		c.queueRunning.Set(1)
	case event.QueueStopped:
		c.queueRunning.Set(0)
	}
	return nil
}

// RegisterGaugeFunc exposes a value sampled at scrape time
func (c *Collector) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
