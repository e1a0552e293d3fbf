// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_invoice"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Dictation session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	CapturesStarted prometheus.Counter
	CapturesSettled *prometheus.CounterVec
	CaptureRestarts prometheus.Counter
	CaptureDuration prometheus.Histogram
	DeviceErrors    *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesDropped  prometheus.Counter

	// Extraction metrics
	ExtractionLatency *prometheus.HistogramVec
	ExtractionErrors  *prometheus.CounterVec

	// Resolution metrics
	ResolutionOutcomes *prometheus.CounterVec
	DraftsFinalized    prometheus.Counter
	DraftsBlocked      *prometheus.CounterVec

	// API request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dictation_sessions_total",
			Help:      "Total number of dictation sessions opened",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dictation_sessions_active",
			Help:      "Number of currently open dictation sessions",
		}),
		CapturesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_started_total",
			Help:      "Total number of capture takes started",
		}),
		CapturesSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_settled_total",
			Help:      "Total number of capture takes settled, by final state",
		}, []string{"state"}),
		CaptureRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_restarts_total",
			Help:      "Total number of automatic recognizer restarts",
		}),
		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of capture takes in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		DeviceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Total number of recognizer errors, by kind",
		}, []string{"provider", "kind"}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim segments received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final segments received",
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		AudioFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped by backpressure limits",
		}),

		ExtractionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_latency_seconds",
			Help:      "Draft extraction latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		ExtractionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_errors_total",
			Help:      "Total number of failed extractions",
		}, []string{"provider", "reason"}),

		ResolutionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_outcomes_total",
			Help:      "Entity resolution outcomes, by entity and status",
		}, []string{"entity", "status"}),
		DraftsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_finalized_total",
			Help:      "Total number of drafts finalized into invoices",
		}),
		DraftsBlocked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_blocked_total",
			Help:      "Total number of finalization attempts rejected, by issue",
		}, []string{"issue"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests, by transport, method and status code",
		}, []string{"transport", "method", "code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport", "method"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionOpen records a new dictation session.
func (m *Metrics) RecordSessionOpen() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionClose records a dictation session closing.
func (m *Metrics) RecordSessionClose() {
	m.SessionsActive.Dec()
}

// RecordCaptureStart records a capture take starting.
func (m *Metrics) RecordCaptureStart() {
	m.CapturesStarted.Inc()
}

// RecordCaptureSettled records a capture take settling into state.
func (m *Metrics) RecordCaptureSettled(state string, durationSeconds float64) {
	m.CapturesSettled.WithLabelValues(state).Inc()
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordRestart records an automatic recognizer restart.
func (m *Metrics) RecordRestart() {
	m.CaptureRestarts.Inc()
}

// RecordDeviceError records a recognizer error.
func (m *Metrics) RecordDeviceError(provider, kind string) {
	m.DeviceErrors.WithLabelValues(provider, kind).Inc()
}

// RecordPartialTranscript records interim segments received.
func (m *Metrics) RecordPartialTranscript(n int) {
	m.TranscriptsPartial.Add(float64(n))
}

// RecordFinalTranscript records final segments received.
func (m *Metrics) RecordFinalTranscript(n int) {
	m.TranscriptsFinal.Add(float64(n))
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordAudioDropped records a frame that had nowhere to go.
func (m *Metrics) RecordAudioDropped() {
	m.AudioFramesDropped.Inc()
}

// RecordExtraction records one extraction call.
func (m *Metrics) RecordExtraction(provider, reason string, latencySeconds float64) {
	m.ExtractionLatency.WithLabelValues(provider).Observe(latencySeconds)
	if reason != "" {
		m.ExtractionErrors.WithLabelValues(provider, reason).Inc()
	}
}

// RecordResolution records the status an entity resolved to.
func (m *Metrics) RecordResolution(entity, status string) {
	m.ResolutionOutcomes.WithLabelValues(entity, status).Inc()
}

// RecordFinalized records a successful finalization.
func (m *Metrics) RecordFinalized() {
	m.DraftsFinalized.Inc()
}

// RecordBlocked records a finalization issue.
func (m *Metrics) RecordBlocked(issue string) {
	m.DraftsBlocked.WithLabelValues(issue).Inc()
}

// RecordRequest records a completed HTTP or gRPC request.
func (m *Metrics) RecordRequest(transport, method, code string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(transport, method, code).Inc()
	m.RequestDuration.WithLabelValues(transport, method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
