package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting ingestion service
type Metrics struct {
	// Chunk ingestion metrics
	ChunksReceived   prometheus.Counter
	ChunkBytes       prometheus.Counter
	ChunkErrors      prometheus.Counter
	ActiveRecordings prometheus.Gauge

	// Recording lifecycle metrics
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	RecordingsFailed    *prometheus.CounterVec
	RecordingDuration   prometheus.Histogram

	// Pipeline stage metrics
	TranscriptionDuration prometheus.Histogram
	PlanDuration          prometheus.Histogram
	DetailDuration        prometheus.Histogram
	PersistenceDuration   prometheus.Histogram
	EmptyTranscripts      prometheus.Counter
	PlanFallbackParses    prometheus.Counter
	DetailDegradations    prometheus.Counter

	// Persistence metrics
	PlansSaved   prometheus.Counter
	ActionsSaved prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with the default
// Prometheus registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics against an explicit registerer.
// Tests use a fresh registry per instance.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)

	return &Metrics{
		// Chunk ingestion metrics
		ChunksReceived: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_chunks_received_total",
			Help: "Total number of audio chunks received",
		}),
		ChunkBytes: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_chunk_bytes_total",
			Help: "Total decoded audio bytes received",
		}),
		ChunkErrors: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_chunk_errors_total",
			Help: "Total number of chunk uploads that failed",
		}),
		ActiveRecordings: auto.NewGauge(prometheus.GaugeOpts{
			Name: "meeting_active_recordings",
			Help: "Current number of active recording sessions",
		}),

		// Recording lifecycle metrics
		RecordingsStarted: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_recordings_started_total",
			Help: "Total number of recording sessions started",
		}),
		RecordingsCompleted: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_recordings_completed_total",
			Help: "Total number of recordings processed to a committed plan",
		}),
		RecordingsFailed: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_recordings_failed_total",
			Help: "Total number of recordings that failed processing",
		}, []string{"category"}),
		RecordingDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_recording_duration_seconds",
			Help:    "Wall time from first chunk to pipeline completion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Pipeline stage metrics
		TranscriptionDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_transcription_duration_seconds",
			Help:    "Duration of speech-to-text requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		PlanDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_plan_generation_duration_seconds",
			Help:    "Duration of plan generation requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		DetailDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_detail_generation_duration_seconds",
			Help:    "Duration of detail generation requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		PersistenceDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_persistence_duration_seconds",
			Help:    "Duration of the plan+actions commit",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		EmptyTranscripts: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_empty_transcripts_total",
			Help: "Total number of recordings with no detectable speech",
		}),
		PlanFallbackParses: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_plan_fallback_parses_total",
			Help: "Total number of plan replies recovered by bracket extraction",
		}),
		DetailDegradations: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_detail_degradations_total",
			Help: "Total number of plans persisted without detail enrichment",
		}),

		// Persistence metrics
		PlansSaved: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_plans_saved_total",
			Help: "Total number of action plans committed",
		}),
		ActionsSaved: auto.NewCounter(prometheus.CounterOpts{
			Name: "meeting_actions_saved_total",
			Help: "Total number of actions committed",
		}),

		// HTTP API metrics
		HTTPRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meeting_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunk records one accepted chunk upload
func (m *Metrics) RecordChunk(sizeBytes int) {
	m.ChunksReceived.Inc()
	m.ChunkBytes.Add(float64(sizeBytes))
}

// RecordChunkError increments the chunk error counter
func (m *Metrics) RecordChunkError() {
	m.ChunkErrors.Inc()
}

// SetActiveRecordings sets the current number of active recording sessions
func (m *Metrics) SetActiveRecordings(count int) {
	m.ActiveRecordings.Set(float64(count))
}

// RecordRecordingStarted increments the recordings started counter
func (m *Metrics) RecordRecordingStarted() {
	m.RecordingsStarted.Inc()
}

// RecordRecordingCompleted records a successful pipeline run
func (m *Metrics) RecordRecordingCompleted(durationSeconds float64) {
	m.RecordingsCompleted.Inc()
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordRecordingFailed records a failed pipeline run by failure category
func (m *Metrics) RecordRecordingFailed(category string, durationSeconds float64) {
	m.RecordingsFailed.WithLabelValues(category).Inc()
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordPersistence records a committed plan with its action count
func (m *Metrics) RecordPersistence(actionCount int, durationSeconds float64) {
	m.PlansSaved.Inc()
	m.ActionsSaved.Add(float64(actionCount))
	m.PersistenceDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
