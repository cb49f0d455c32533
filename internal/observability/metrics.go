package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/convolog/ingestd/internal/domain"
)

// IngestMetrics holds the Prometheus instruments for the ingestion pipeline.
type IngestMetrics struct {
	JobsTotal     *prometheus.CounterVec
	MessagesAdded prometheus.Counter
	JobDuration   prometheus.Histogram
	ChunksParsed  prometheus.Counter
}

// NewIngestMetrics registers the ingestion instruments with the given
// registerer.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestd_jobs_total",
			Help: "Ingestion attempts by terminal status and source kind.",
		}, []string{"status", "source"}),
		MessagesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_messages_added_total",
			Help: "Normalized messages written to the sink.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestd_job_duration_seconds",
			Help:    "Wall time of ingestion attempts.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ChunksParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_chunks_parsed_total",
			Help: "Message chunks parsed across all jobs.",
		}),
	}
	reg.MustRegister(m.JobsTotal, m.MessagesAdded, m.JobDuration, m.ChunksParsed)
	return m
}

// ObserveJob records a finished job. Safe on a nil receiver so the
// orchestrator can run without metrics wired.
func (m *IngestMetrics) ObserveJob(job *domain.IngestionJob) {
	if m == nil || job == nil {
		return
	}
	m.JobsTotal.WithLabelValues(string(job.Status), string(job.SourceKind)).Inc()
	m.MessagesAdded.Add(float64(job.MessagesAdded))
	m.JobDuration.Observe(float64(job.ProcessingTimeMs) / 1000.0)
	m.ChunksParsed.Add(float64(job.Metrics.Chunks))
}
