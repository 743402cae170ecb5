// Package metrics provides Prometheus instrumentation for mediaconv.
//
// All collectors live on a private registry owned by a Metrics value, so
// several instances (one per test, say) never collide. Metric names are
// prefixed with "mediaconv_".
//
// # Job metrics
//   - JobsTotal: finished jobs by terminal state
//   - JobDuration: wall time of finished jobs by terminal state
//   - JobsActive, JobsQueued: current pool load
//   - AggregateProgress: mean progress of the active jobs
//
// # HTTP metrics
//   - HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight
//
// # Host metrics
//   - HostCPUPercent, HostMemoryPercent: refreshed by a Collector
//   - HardwareAcceleration: 1 for the selected acceleration method
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaconv/pkg/models"
)

const namespace = "mediaconv"

// Metrics holds every collector exposed by the process.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal         *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	JobsActive        prometheus.Gauge
	JobsQueued        prometheus.Gauge
	AggregateProgress prometheus.Gauge

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	HostCPUPercent       prometheus.Gauge
	HostMemoryPercent    prometheus.Gauge
	HardwareAcceleration *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of finished conversion jobs",
			},
			[]string{"state"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Conversion job wall time in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
			},
			[]string{"state"},
		),
		JobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of jobs currently running",
		}),
		JobsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Number of jobs waiting for a slot",
		}),
		AggregateProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregate_progress_percent",
			Help:      "Mean progress of the active jobs (0-100)",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),

		HostCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilisation",
		}),
		HostMemoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Host memory utilisation",
		}),
		HardwareAcceleration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hardware_acceleration",
				Help:      "Selected hardware acceleration method (1 = selected)",
			},
			[]string{"method"},
		),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveResult counts a finished job.
func (m *Metrics) ObserveResult(state models.JobState, d time.Duration) {
	m.JobsTotal.WithLabelValues(string(state)).Inc()
	m.JobDuration.WithLabelValues(string(state)).Observe(d.Seconds())
}

// SetLoad records the pool occupancy.
func (m *Metrics) SetLoad(active, queued int, aggregate float64) {
	m.JobsActive.Set(float64(active))
	m.JobsQueued.Set(float64(queued))
	m.AggregateProgress.Set(aggregate)
}

// SetHardware marks method as the selected acceleration method.
func (m *Metrics) SetHardware(method string) {
	m.HardwareAcceleration.Reset()
	m.HardwareAcceleration.WithLabelValues(method).Set(1)
}

// SetHost records a host telemetry reading.
func (m *Metrics) SetHost(stats models.HostStats) {
	m.HostCPUPercent.Set(stats.CPUPercent)
	m.HostMemoryPercent.Set(stats.RAMPercent)
}
