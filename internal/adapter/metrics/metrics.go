package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds the Prometheus metrics shared by the pipeline
// binaries.
type PipelineMetrics struct {
	EventsTotal       *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	PermanentFailures *prometheus.CounterVec
	WebhookRequests   *prometheus.CounterVec
	BackfillPages     prometheus.Counter
	StageDuration     *prometheus.HistogramVec
}

// New initializes the pipeline metrics against the given registerer. Pass
// prometheus.DefaultRegisterer in binaries; tests use a fresh registry so
// repeated construction does not collide.
func New(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issue_stream",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Processing attempts by stage and outcome.",
		}, []string{"stage", "status"}), // status: ok, error, permanently_failed
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issue_stream",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Messages scheduled for redelivery, by stage.",
		}, []string{"stage"}),
		PermanentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issue_stream",
			Subsystem: "pipeline",
			Name:      "permanent_failures_total",
			Help:      "Messages dropped after exhausting the attempt budget or failing permanently, by stage.",
		}, []string{"stage"}),
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issue_stream",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook requests by outcome.",
		}, []string{"status"}), // status: accepted, malformed, fetch_error, publish_error
		BackfillPages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "issue_stream",
			Subsystem: "backfill",
			Name:      "pages_total",
			Help:      "Source pages walked by the backfill driver.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "issue_stream",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one handler invocation, by stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}
