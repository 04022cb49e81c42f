package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ocean_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion
// and aggregation.
type Metrics struct {
	EventsConsumed  prometheus.Counter
	ResultsProduced prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Ingestion metrics.
	Ingestions     *prometheus.CounterVec // labels: status={skipped,succeeded,duplicate,failed}, cause={fetch,parse,store,""}
	RowsInserted   prometheus.Counter
	RowsRejected   prometheus.Counter
	ObjectBytes    prometheus.Histogram
	IngestDuration prometheus.Histogram

	// Upload metrics.
	Uploads *prometheus.CounterVec // labels: outcome={stored,rejected,failed}

	// Aggregation metrics.
	SummaryOutcomes     *prometheus.CounterVec // labels: outcome={updated,skipped,failed}
	AggregationDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.EventsConsumed,
		m.ResultsProduced,
		m.PipelineRunning,
		m.Ingestions,
		m.RowsInserted,
		m.RowsRejected,
		m.ObjectBytes,
		m.IngestDuration,
		m.Uploads,
		m.SummaryOutcomes,
		m.AggregationDuration,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      help("Total object notifications read from the source topic."),
		}),
		ResultsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_produced_total",
			Help:      help("Total ingestion results written to the sink topic."),
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the notification consumer is active, 0 when shut down."),
		}),
		Ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      help("Object ingestion attempts by terminal status and failure cause."),
		}, []string{"status", "cause"}),
		RowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      help("Observation records committed to the store."),
		}),
		RowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      help("Rows dropped by validation."),
		}),
		ObjectBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "object_bytes",
			Help:      help("Size of fetched objects in bytes."),
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      help("Duration of one object ingestion from fetch to commit."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      help("Dataset uploads by outcome."),
		}, []string{"outcome"}),
		SummaryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_outcomes_total",
			Help:      help("Metric summary recompute outcomes per metric definition."),
		}, []string{"outcome"}),
		AggregationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      help("Duration of a full summary recompute."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}
}
