// Package metrics exposes Prometheus metrics for the detection service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the detection service.
type Metrics struct {
	// Pipeline metrics
	FramesRead        *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	Inferences        *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	FrameQueueDepth   *prometheus.GaugeVec

	// Detection metrics
	Detections *prometheus.CounterVec

	// Stream lifecycle metrics
	ActiveStreams  prometheus.Gauge
	StreamsStarted prometheus.Counter
	StreamsStopped prometheus.Counter
	StreamsExpired prometheus.Counter

	// Accelerator metrics
	AcceleratorDevices prometheus.Gauge
	AcceleratorTemp    *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		FramesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrowatch_frames_read_total",
			Help: "Total number of frames read from video sources",
		}, []string{"stream_id"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrowatch_frames_dropped_total",
			Help: "Total number of frames dropped by the bounded pipeline queues",
		}, []string{"stream_id"}),
		Inferences: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrowatch_inferences_total",
			Help: "Total number of inference runs",
		}, []string{"stream_id"}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyrowatch_inference_duration_seconds",
			Help:    "Inference latency per frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		FrameQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pyrowatch_frame_queue_depth",
			Help: "Current depth of the per-stream preprocess queue",
		}, []string{"stream_id"}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyrowatch_detections_total",
			Help: "Total number of detections by class",
		}, []string{"class"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pyrowatch_active_streams",
			Help: "Current number of active video streams",
		}),
		StreamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pyrowatch_streams_started_total",
			Help: "Total number of streams started",
		}),
		StreamsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pyrowatch_streams_stopped_total",
			Help: "Total number of streams stopped",
		}),
		StreamsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "pyrowatch_streams_expired_total",
			Help: "Total number of streams expired by the cleanup sweep",
		}),
		AcceleratorDevices: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pyrowatch_accelerator_devices",
			Help: "Number of accelerator devices detected",
		}),
		AcceleratorTemp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pyrowatch_accelerator_temperature_celsius",
			Help: "Accelerator chip temperature",
		}, []string{"device_id", "sensor"}),
		registry: registry,
	}
}

// RemoveStream drops the per-stream label series so /metrics stops reporting
// streams that no longer exist.
func (m *Metrics) RemoveStream(streamID string) {
	m.FramesRead.DeleteLabelValues(streamID)
	m.FramesDropped.DeleteLabelValues(streamID)
	m.Inferences.DeleteLabelValues(streamID)
	m.FrameQueueDepth.DeleteLabelValues(streamID)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
