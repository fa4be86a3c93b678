// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meetmind_asr_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SessionsRejected *prometheus.CounterVec
	SessionsEnded    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Upstream metrics
	UpstreamConnectErrors *prometheus.CounterVec
	UpstreamConnectTime   *prometheus.HistogramVec
	UpstreamDropped       *prometheus.CounterVec
	STTErrors             *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesFlushed  prometheus.Counter

	// Result metrics
	TranscriptsInterim prometheus.Counter
	TranscriptsFinal   *prometheus.CounterVec
	ClientEvents       *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Backpressure metrics
	LimitExceeded *prometheus.CounterVec

	// gRPC metrics
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions started",
		}, []string{"provider"}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active relay sessions",
		}),
		SessionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Total number of sessions rejected before any upstream attempt",
		}, []string{"reason"}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions torn down, by trigger",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of relay sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}),

		// Upstream metrics
		UpstreamConnectErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connect_errors_total",
			Help:      "Total number of failed upstream connection attempts",
		}, []string{"provider"}),
		UpstreamConnectTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_ready_latency_seconds",
			Help:      "Time from session start to upstream configuration acknowledgment",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		UpstreamDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_messages_dropped_total",
			Help:      "Upstream messages dropped without a client event",
		}, []string{"reason"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from clients",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received from clients",
		}),
		AudioFramesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_flushed_total",
			Help:      "Audio frames buffered before readiness and flushed afterwards",
		}),

		// Result metrics
		TranscriptsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim transcripts relayed",
		}),
		TranscriptsFinal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts relayed, by timestamp source",
		}, []string{"timestamp_source"}),
		ClientEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_total",
			Help:      "Events written to clients, by event name",
		}, []string{"event"}),

		// Kafka publish metrics
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

		// Backpressure metrics
		LimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_exceeded_total",
			Help:      "Total number of times a relay limit was exceeded",
		}, []string{"limit_type"}),

		// gRPC metrics
		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls, by method and status code",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart(provider string) {
	m.SessionsTotal.WithLabelValues(provider).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session teardown.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRejected records a session refused at the acceptor.
func (m *Metrics) RecordSessionRejected(reason string) {
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordUpstreamConnectError records a failed dial or handshake.
func (m *Metrics) RecordUpstreamConnectError(provider string) {
	m.UpstreamConnectErrors.WithLabelValues(provider).Inc()
}

// RecordUpstreamReady records the time until the configuration was acknowledged.
func (m *Metrics) RecordUpstreamReady(provider string, latencySeconds float64) {
	m.UpstreamConnectTime.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordUpstreamDropped records an upstream message that produced no client event.
func (m *Metrics) RecordUpstreamDropped(reason string) {
	m.UpstreamDropped.WithLabelValues(reason).Inc()
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordAudioFlushed records buffered frames relayed on readiness.
func (m *Metrics) RecordAudioFlushed(frames int) {
	m.AudioFramesFlushed.Add(float64(frames))
}

// RecordInterimTranscript records an interim transcript relayed.
func (m *Metrics) RecordInterimTranscript() {
	m.TranscriptsInterim.Inc()
}

// RecordFinalTranscript records a final transcript and how it was timed.
func (m *Metrics) RecordFinalTranscript(timestampSource string) {
	m.TranscriptsFinal.WithLabelValues(timestampSource).Inc()
}

// RecordClientEvent records an event written to a client.
func (m *Metrics) RecordClientEvent(event string) {
	m.ClientEvents.WithLabelValues(event).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordLimitExceeded records when a relay limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.LimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
