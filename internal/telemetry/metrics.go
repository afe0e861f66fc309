// Package telemetry exposes Prometheus metrics for the orchestration
// engine. Metrics register on the default registry and are served via
// promhttp on the API server's /metrics endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's instrumentation counters.
type Metrics struct {
	RequestsAdmitted  prometheus.Counter
	RequestsCompleted prometheus.Counter
	RequestsFailed    prometheus.Counter
	RequestsInFlight  prometheus.Gauge
	JobsDispatched    prometheus.Counter
	JobRetries        prometheus.Counter
	FindingsPersisted prometheus.Counter
}

// New registers and returns the engine metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzd_requests_admitted_total",
			Help: "Requests admitted into the pipeline by the scheduler.",
		}),
		RequestsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzd_requests_completed_total",
			Help: "Requests that reached the Completed status.",
		}),
		RequestsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzd_requests_failed_total",
			Help: "Requests that reached the Failed status.",
		}),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "analyzd_requests_in_flight",
			Help: "Requests currently mid-pipeline.",
		}),
		JobsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzd_jobs_dispatched_total",
			Help: "Job dispatch messages published, including retries.",
		}),
		JobRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzd_job_retries_total",
			Help: "Job dispatch attempts beyond the first.",
		}),
		FindingsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "analyzd_findings_persisted_total",
			Help: "Findings written by the consolidator.",
		}),
	}
}

// NewForTest returns metrics on a private registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
