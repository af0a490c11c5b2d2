package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request duration, including streamed responses",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60, 180},
		},
		[]string{"method", "route"},
	)

	// Relay metrics
	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_streams_total",
			Help: "Model operations by kind and terminal state",
		},
		[]string{"operation", "outcome"}, // operation: chat, regenerate, continue; outcome: committed, rejected, aborted, failed
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_stream_duration_seconds",
			Help:    "Time from upstream request to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"operation"},
	)

	StreamsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_streams_in_flight",
			Help: "Streams currently registered for abort",
		},
	)

	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_upstream_malformed_frames_total",
			Help: "Upstream frames skipped because their payload could not be decoded",
		},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_upstream_errors_total",
			Help: "Upstream failures by cause",
		},
		[]string{"cause"}, // status, network
	)

	TitlesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_titles_generated_total",
			Help: "Conversation title generation attempts",
		},
		[]string{"result"},
	)
)
