package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_relay_active_sessions",
		Help: "Number of live caption sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_relay_sessions_total",
		Help: "Total number of sessions created",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_relay_session_duration_seconds",
		Help:    "Duration of caption sessions in seconds",
		Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200},
	})

	listenersByLanguage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_relay_listeners",
		Help: "Connected listeners by target language",
	}, []string{"lang"})

	// Pool metrics
	workerStates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_relay_pool_workers",
		Help: "Upstream workers by state, summed over sessions",
	}, []string{"state"})

	chunksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_relay_chunks_submitted_total",
		Help: "Audio chunks submitted to session pools",
	})

	queueOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_relay_queue_overflows_total",
		Help: "Queued chunks dropped because the pool queue was full",
	})

	gapSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_gap_skips_total",
		Help: "Sequences skipped by the reorder buffer",
	}, []string{"reason"})

	lateFinalsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_relay_late_finals_dropped_total",
		Help: "Finals that arrived after their sequence was skipped",
	})

	workerReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_worker_reconnects_total",
		Help: "Worker reconnection outcomes",
	}, []string{"outcome"}) // outcome: "success", "dead"

	upstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_upstream_errors_total",
		Help: "Upstream stream errors by class",
	}, []string{"class"}) // class: "transport", "quota_auth", "timeout"

	finalReleaseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_relay_final_release_latency_seconds",
		Help:    "Time from chunk arrival to ordered release of its final",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0},
	})

	// Translation metrics
	translationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_translation_requests_total",
		Help: "Translation calls per target language",
	}, []string{"provider", "status"})

	translationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caption_relay_translation_latency_seconds",
		Help:    "Translation call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"provider"})

	// Fanout metrics
	broadcastMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_broadcast_messages_total",
		Help: "Messages delivered to listeners by kind",
	}, []string{"kind"})

	broadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_broadcast_failures_total",
		Help: "Failed listener sends by reason",
	}, []string{"reason"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_relay_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "upstream"

	segmentsCut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_relay_segments_total",
		Help: "Audio segments cut by trigger",
	}, []string{"trigger"})
)

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// ListenerJoined adjusts the per-language listener gauge.
func ListenerJoined(lang string) {
	listenersByLanguage.WithLabelValues(lang).Inc()
}

// ListenerLeft adjusts the per-language listener gauge.
func ListenerLeft(lang string) {
	listenersByLanguage.WithLabelValues(lang).Dec()
}

// AddWorkerState moves the worker gauge for state by delta.
func AddWorkerState(state string, delta int) {
	workerStates.WithLabelValues(state).Add(float64(delta))
}

func RecordChunkSubmitted() {
	chunksSubmitted.Inc()
}

func RecordQueueOverflow() {
	queueOverflows.Inc()
}

func RecordGapSkipped(reason string) {
	gapSkips.WithLabelValues(reason).Inc()
}

func RecordLateFinalDropped() {
	lateFinalsDropped.Inc()
}

func RecordWorkerReconnect(outcome string) {
	workerReconnects.WithLabelValues(outcome).Inc()
}

func RecordUpstreamError(class string) {
	upstreamErrors.WithLabelValues(class).Inc()
}

// RecordFinalRelease observes the age of a chunk when its final is released.
func RecordFinalRelease(arrivedAt time.Time) {
	if arrivedAt.IsZero() {
		return
	}
	finalReleaseLatency.Observe(time.Since(arrivedAt).Seconds())
}

// RecordTranslation records one per-language translation call.
func RecordTranslation(provider string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	translationRequests.WithLabelValues(provider, status).Inc()
	translationLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func RecordBroadcast(kind string, recipients int) {
	broadcastMessages.WithLabelValues(kind).Add(float64(recipients))
}

func RecordBroadcastFailure(reason string) {
	broadcastFailures.WithLabelValues(reason).Inc()
}

func RecordSegment(trigger string) {
	segmentsCut.WithLabelValues(trigger).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
