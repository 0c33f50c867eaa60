// Package metrics exposes run outcomes as Prometheus metrics, written in the
// node_exporter textfile format after each run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c-r-lewis/plumbops/internal/executor"
)

const namespace = "plumbops"

// Collector holds the metrics of the latest run.
type Collector struct {
	registry *prometheus.Registry

	tasks        *prometheus.GaugeVec
	hosts        *prometheus.GaugeVec
	taskDuration *prometheus.HistogramVec
	attempts     prometheus.Counter
	duration     prometheus.Gauge
	finished     prometheus.Gauge
	failed       prometheus.Gauge
}

// New registers the run metrics on a private registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_tasks",
			Help:      "Task outcomes of the last run, by status.",
		}, []string{"status"}),
		hosts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_hosts",
			Help:      "Hosts of the last run, by final connection state.",
		}, []string{"state"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent checking and applying tasks, by module.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 7),
		}, []string{"module"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "SSH connection attempts made during the run.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last run.",
		}),
		finished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_last_finished_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_failed",
			Help:      "1 if the last run had failed hosts.",
		}),
	}
	c.registry.MustRegister(c.tasks, c.hosts, c.taskDuration, c.attempts, c.duration, c.finished, c.failed)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe records a finished run.
func (c *Collector) Observe(r *executor.RunResult) {
	sum := r.Summary()
	c.tasks.WithLabelValues(string(executor.StatusChanged)).Set(float64(sum.Changed))
	c.tasks.WithLabelValues(string(executor.ReasonSatisfied)).Set(float64(sum.Satisfied))
	c.tasks.WithLabelValues(string(executor.StatusSkipped)).Set(float64(sum.Skipped))
	c.tasks.WithLabelValues(string(executor.StatusFailed)).Set(float64(sum.Failed))
	c.tasks.WithLabelValues(string(executor.StatusIndeterminate)).Set(float64(sum.Indeterminate))

	c.hosts.Reset()
	for _, name := range r.HostNames() {
		h, _ := r.Host(name)
		c.hosts.WithLabelValues(h.State.String()).Inc()
		c.attempts.Add(float64(h.Attempts))
		for _, list := range [][]executor.TaskResult{h.Tasks, h.Handlers} {
			for _, t := range list {
				if t.Duration > 0 {
					c.taskDuration.WithLabelValues(t.Module).Observe(t.Duration.Seconds())
				}
			}
		}
	}

	c.duration.Set(r.Duration().Seconds())
	c.finished.Set(float64(r.FinishedAt.Unix()))
	if r.Failed() {
		c.failed.Set(1)
	} else {
		c.failed.Set(0)
	}
}

// WriteTextfile writes the registry atomically for the node_exporter
// textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
