package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genstudio_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genstudio_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GenerationsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genstudio_generations_submitted_total",
			Help: "Total number of generation tasks accepted by the provider.",
		},
		[]string{"mode"},
	)

	SubmissionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genstudio_submission_failures_total",
			Help: "Total number of generation submissions rejected by the provider.",
		},
		[]string{"mode"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genstudio_polls_total",
			Help: "Total number of provider status queries by observed state.",
		},
		[]string{"state"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genstudio_quota_denials_total",
			Help: "Total number of generations refused by the quota gate.",
		},
		[]string{"kind"},
	)

	ImagesMaterializedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genstudio_images_materialized_total",
			Help: "Total number of result images processed, by outcome.",
		},
		[]string{"outcome"},
	)

	ReconstructionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genstudio_reconstruction_failures_total",
			Help: "Total number of outpaint results that could not be reconstructed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GenerationsSubmittedTotal,
		SubmissionFailuresTotal,
		PollsTotal,
		QuotaDenialsTotal,
		ImagesMaterializedTotal,
		ReconstructionFailuresTotal,
	)
}
