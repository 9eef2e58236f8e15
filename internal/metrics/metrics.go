// Package metrics holds the Prometheus instruments of the capture pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	FramesCaptured   prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	ConversionErrors *prometheus.CounterVec
	HeadersSent      prometheus.Counter
	Interruptions    *prometheus.CounterVec

	// Delivery
	ChunksEmitted prometheus.Counter
	ChunkBytes    prometheus.Histogram
	DeliveryQueue prometheus.Gauge
	WSSubscribers prometheus.Gauge
	WSEvictions   prometheus.Counter

	// Recording lifecycle
	ActiveRecordings  prometheus.Gauge
	RecordingDuration prometheus.Histogram
	Stalls            prometheus.Counter

	// Transcription
	TranscriptSegments  prometheus.Counter
	TranscriptionErrors *prometheus.CounterVec

	// HTTP API
	HTTPRequests *prometheus.CounterVec
}

// New registers every instrument on a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "wispr_frames_captured_total",
			Help: "Native capture buffers delivered by the input source",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wispr_frames_dropped_total",
			Help: "Capture buffers discarded at the tap",
		}, []string{"reason"}),
		ConversionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wispr_conversion_errors_total",
			Help: "Transient format conversion failures",
		}, []string{"kind"}),
		HeadersSent: f.NewCounter(prometheus.CounterOpts{
			Name: "wispr_wav_headers_sent_total",
			Help: "Streaming WAV headers emitted at session start",
		}),
		Interruptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wispr_interruptions_total",
			Help: "Audio session interruption notifications",
		}, []string{"type"}),

		ChunksEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "wispr_chunks_emitted_total",
			Help: "Audio chunks delivered to listeners",
		}),
		ChunkBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wispr_chunk_bytes",
			Help:    "Size of delivered audio chunks in bytes",
			Buckets: []float64{44, 158, 512, 1024, 2048, 4096, 8192},
		}),
		DeliveryQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "wispr_delivery_queue_depth",
			Help: "Chunks waiting for dispatch",
		}),
		WSSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "wispr_ws_subscribers",
			Help: "Connected websocket subscribers",
		}),
		WSEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "wispr_ws_evictions_total",
			Help: "Websocket subscribers removed after a failed write",
		}),

		ActiveRecordings: f.NewGauge(prometheus.GaugeOpts{
			Name: "wispr_active_recordings",
			Help: "1 while a recording session exists",
		}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wispr_recording_duration_seconds",
			Help:    "Wall-clock length of finished recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Stalls: f.NewCounter(prometheus.CounterOpts{
			Name: "wispr_stalls_total",
			Help: "Recording sessions that stopped producing chunks",
		}),

		TranscriptSegments: f.NewCounter(prometheus.CounterOpts{
			Name: "wispr_transcript_segments_total",
			Help: "Speaker segments persisted from live transcription",
		}),
		TranscriptionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wispr_transcription_errors_total",
			Help: "Transcription failures by backend",
		}, []string{"backend"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wispr_http_requests_total",
			Help: "Bridge API requests by route and status",
		}, []string{"route", "status"}),
	}
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConversionFailed(kind string) {
	if m == nil {
		return
	}
	m.ConversionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) HeaderSent() {
	if m == nil {
		return
	}
	m.HeadersSent.Inc()
}

func (m *Metrics) Interrupted(kind string) {
	if m == nil {
		return
	}
	m.Interruptions.WithLabelValues(kind).Inc()
}

func (m *Metrics) ChunkEmitted(size int) {
	if m == nil {
		return
	}
	m.ChunksEmitted.Inc()
	m.ChunkBytes.Observe(float64(size))
}

func (m *Metrics) SetDeliveryQueue(n int) {
	if m == nil {
		return
	}
	m.DeliveryQueue.Set(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.WSSubscribers.Set(float64(n))
}

func (m *Metrics) SubscriberEvicted() {
	if m == nil {
		return
	}
	m.WSEvictions.Inc()
}

func (m *Metrics) RecordingStarted() {
	if m == nil {
		return
	}
	m.ActiveRecordings.Set(1)
}

func (m *Metrics) RecordingStopped(d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Set(0)
	m.RecordingDuration.Observe(d.Seconds())
}

func (m *Metrics) Stalled() {
	if m == nil {
		return
	}
	m.Stalls.Inc()
}

func (m *Metrics) SegmentStored() {
	if m == nil {
		return
	}
	m.TranscriptSegments.Inc()
}

func (m *Metrics) TranscriptionFailed(backend string) {
	if m == nil {
		return
	}
	m.TranscriptionErrors.WithLabelValues(backend).Inc()
}

func (m *Metrics) Request(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
