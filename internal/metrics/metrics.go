package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/printdesk/internal/core"
)

// Collector exposes print job lifecycle metrics.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted  prometheus.Counter
	papersReserved prometheus.Counter
	quotaRejected  prometheus.Counter
	jobsFinished   *prometheus.CounterVec

	jobDuration prometheus.Histogram
	queueDepth  prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printdesk_jobs_submitted_total",
			Help: "Total number of print jobs accepted",
		}),
		papersReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printdesk_papers_submitted_total",
			Help: "Total number of sheets requested by accepted jobs",
		}),
		quotaRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printdesk_quota_rejections_total",
			Help: "Total number of submissions rejected by the monthly quota",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printdesk_jobs_finished_total",
			Help: "Total number of print jobs reaching a terminal state",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "printdesk_job_duration_seconds",
			Help:    "Time from dequeue to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printdesk_queue_depth",
			Help: "Number of job ids waiting in the dispatch queue",
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.papersReserved,
		c.quotaRejected,
		c.jobsFinished,
		c.jobDuration,
		c.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) RecordSubmitted(papers int) {
	c.jobsSubmitted.Inc()
	c.papersReserved.Add(float64(papers))
}

func (c *Collector) RecordQuotaRejected() {
	c.quotaRejected.Inc()
}

// RecordFinished counts a terminal job. A zero elapsed time means the job
// never reached the printer and is left out of the duration histogram.
func (c *Collector) RecordFinished(status core.JobStatus, elapsed time.Duration) {
	c.jobsFinished.WithLabelValues(string(status)).Inc()
	if elapsed > 0 {
		c.jobDuration.Observe(elapsed.Seconds())
	}
}

func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var _ core.Recorder = (*Collector)(nil)
