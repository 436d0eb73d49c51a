package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_http_logger_requests_captured_total",
		Help: "The total number of requests captured and handed to the sinks",
	}, []string{"method"})

	RequestsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_http_logger_requests_suppressed_total",
		Help: "Requests that ran but were not logged, by suppression reason",
	}, []string{"reason"})

	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbound_http_logger_sink_failures_total",
		Help: "Persistence failures per sink",
	}, []string{"sink"})

	CaptureOverhead = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inbound_http_logger_capture_overhead_seconds",
		Help:    "Time spent assembling and persisting a record, outside the handler",
		Buckets: prometheus.DefBuckets,
	})
)
