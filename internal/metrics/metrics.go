package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcsched_requests_enqueued_total",
		Help: "Total number of scheduling requests placed on the owner queue.",
	})

	RequestsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcsched_requests_dropped_total",
		Help: "Total number of scheduling requests refused because the queue stayed full.",
	})

	RequestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcsched_requests_throttled_total",
		Help: "Total number of telecommands refused by the intake rate limiter.",
	})

	RequestsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcsched_requests_processed_total",
		Help: "Total number of scheduling requests executed, labelled by kind and outcome.",
	}, []string{"kind", "outcome"})

	ItemFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcsched_item_failures_total",
		Help: "Total number of batch items that failed to start, labelled by failure code.",
	}, []string{"code"})

	ActivitiesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcsched_activities_released_total",
		Help: "Total number of activities released to the sink.",
	})

	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcsched_sink_errors_total",
		Help: "Total number of releases the sink failed to forward.",
	})

	JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcsched_journal_errors_total",
		Help: "Total number of failed schedule journal writes.",
	})

	ScheduleSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcsched_schedule_size",
		Help: "Number of activities currently waiting for release.",
	})

	ScheduleEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcsched_schedule_enabled",
		Help: "1 when the release function is enabled, 0 otherwise.",
	})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tcsched_request_duration_ms",
		Help:    "End-to-end request latency in milliseconds, queueing included.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcsched_queue_utilization_ratio",
		Help: "Current request queue utilization (0-1).",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tcsched_stream_clients",
		Help: "Number of connected downlink stream clients.",
	})
)
