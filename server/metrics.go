package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the service.
type Metrics struct {
	JobsTotal     *prometheus.CounterVec
	RecordsStored prometheus.Gauge
	Subscribers   prometheus.Gauge
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapedesk_jobs_total",
			Help: "Extraction jobs by outcome.",
		},
		[]string{"outcome"},
	)
	stored := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapedesk_records_stored",
			Help: "Records currently held by the service.",
		},
	)
	subscribers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapedesk_progress_subscribers",
			Help: "Connected progress streams.",
		},
	)

	reg.MustRegister(jobs, stored, subscribers)

	return &Metrics{
		JobsTotal:     jobs,
		RecordsStored: stored,
		Subscribers:   subscribers,
	}
}

// IncJob counts a finished job.
func (m *Metrics) IncJob(outcome string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

// SetStored records the repository size.
func (m *Metrics) SetStored(n int) {
	if m == nil {
		return
	}
	m.RecordsStored.Set(float64(n))
}

// SetSubscribers records the number of connected streams.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}
