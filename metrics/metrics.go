// Package metrics holds the Prometheus collectors shared by cassdl components.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "cassdl"

	MetricIngestedJobs      = "ingested_jobs_total"
	MetricFailedJobs        = "failed_jobs_total"
	MetricIngestRetries     = "ingest_retries_total"
	MetricDiscardedRows     = "planner_discarded_rows_total"
	MetricExcludedRows      = "planner_excluded_rows_total"
	MetricLoadedBatches     = "loaded_batches_total"
	MetricFetchedSamples    = "fetched_samples_total"
	MetricFetchDuration     = "fetch_duration_seconds"
	MetricPrefetchDiscarded = "prefetch_discarded_batches_total"
)

var CounterIngestedJobs = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricIngestedJobs,
		Help:      "Files written to the backing store by ingestion workers.",
	},
)

var CounterFailedJobs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricFailedJobs,
		Help:      "Files which could not be ingested, by failure stage.",
	},
	[]string{
		"stage",
	},
)

var CounterIngestRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricIngestRetries,
		Help:      "Writes retried after a retryable storage failure.",
	},
)

var CounterDiscardedRows = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricDiscardedRows,
		Help:      "Rows left out of every split by class balancing.",
	},
	[]string{
		"class",
	},
)

var CounterExcludedRows = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricExcludedRows,
		Help:      "Rows left out of every split because their tag matched no bag.",
	},
)

var CounterLoadedBatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricLoadedBatches,
		Help:      "Batches assembled by the batch loader.",
	},
	[]string{
		"table",
	},
)

var CounterFetchedSamples = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricFetchedSamples,
		Help:      "Samples fetched from the backing store.",
	},
)

var HistogramFetchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricFetchDuration,
		Help:      "Duration of bulk payload fetches.",
		Buckets:   prometheus.DefBuckets,
	},
)

var CounterPrefetchDiscarded = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricPrefetchDiscarded,
		Help:      "Prefetched batches dropped by Ignore or Reset.",
	},
)

func init() {
	prometheus.MustRegister(CounterIngestedJobs)
	prometheus.MustRegister(CounterFailedJobs)
	prometheus.MustRegister(CounterIngestRetries)
	prometheus.MustRegister(CounterDiscardedRows)
	prometheus.MustRegister(CounterExcludedRows)
	prometheus.MustRegister(CounterLoadedBatches)
	prometheus.MustRegister(CounterFetchedSamples)
	prometheus.MustRegister(HistogramFetchDuration)
	prometheus.MustRegister(CounterPrefetchDiscarded)
}
