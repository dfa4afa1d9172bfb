package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_gateway_active_sessions",
		Help: "Number of live caption sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_sessions_total",
		Help: "Total number of caption sessions accepted",
	}, []string{"provider"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_gateway_session_duration_seconds",
		Help:    "Duration of caption sessions in seconds",
		Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200},
	})

	// Caption events sent to clients
	captionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_caption_events_total",
		Help: "Caption events sent to clients",
	}, []string{"type"}) // type: partial, final, error

	finalizeDirectives = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_finalize_directives_total",
		Help: "Finalize directives sent upstream",
	}, []string{"reason"}) // reason: silence, max_segment

	emptySegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_empty_segments_total",
		Help: "Boundaries that produced a segment without text",
	})

	// Upstream metrics
	providerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_provider_errors_total",
		Help: "Errors reported by or parsing the streaming provider",
	}, []string{"provider", "kind"}) // kind: protocol, parse, transport

	upstreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_upstream_reconnects_total",
		Help: "Upstream reconnect outcomes after a provider drop",
	}, []string{"result"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"})

	// Persistence metrics
	persistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_persistence_failures_total",
		Help: "Best-effort writes that failed or were dropped",
	}, []string{"kind"}) // kind: audio_write, audio_dropped, transcript_append

	// Async job metrics
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_jobs_total",
		Help: "Async transcription jobs by terminal status",
	}, []string{"status"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_gateway_job_duration_seconds",
		Help:    "Time from upload to terminal job status",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single caption session
type SessionMetrics struct {
	clientID  string
	provider  string
	startTime time.Time

	mu        sync.Mutex
	ended     bool
	partials  int
	finals    int
	audioSize int64
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(clientID, provider string) *SessionMetrics {
	return &SessionMetrics{
		clientID:  clientID,
		provider:  provider,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.WithLabelValues(m.provider).Inc()
}

// RecordSessionEnd records the end of a session. Later calls are ignored.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

func (m *SessionMetrics) RecordPartial() {
	m.mu.Lock()
	m.partials++
	m.mu.Unlock()
	captionEvents.WithLabelValues("partial").Inc()
}

func (m *SessionMetrics) RecordFinal() {
	m.mu.Lock()
	m.finals++
	m.mu.Unlock()
	captionEvents.WithLabelValues("final").Inc()
}

func (m *SessionMetrics) RecordClientError() {
	captionEvents.WithLabelValues("error").Inc()
}

func (m *SessionMetrics) RecordEmptySegment() {
	emptySegments.Inc()
}

// RecordFinalize records a finalize directive and why it was sent
func (m *SessionMetrics) RecordFinalize(reason string) {
	finalizeDirectives.WithLabelValues(reason).Inc()
}

// RecordProviderError records an upstream error by kind
func (m *SessionMetrics) RecordProviderError(kind string) {
	providerErrors.WithLabelValues(m.provider, kind).Inc()
}

// RecordReconnect records the outcome of an upstream reconnect
func (m *SessionMetrics) RecordReconnect(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	upstreamReconnects.WithLabelValues(result).Inc()
}

// RecordAudioBytes records audio bytes relayed upstream
func (m *SessionMetrics) RecordAudioBytes(bytes int64) {
	m.mu.Lock()
	m.audioSize += bytes
	m.mu.Unlock()
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// Summary returns per-session totals for the closing log line
func (m *SessionMetrics) Summary() (partials, finals int, audioBytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partials, m.finals, m.audioSize, time.Since(m.startTime)
}

// RecordProviderOpenFailure counts an upstream session that could not be opened
func RecordProviderOpenFailure(provider string) {
	providerErrors.WithLabelValues(provider, "open").Inc()
}

// RecordPersistenceFailure counts a failed or dropped best-effort write
func RecordPersistenceFailure(kind string) {
	persistenceFailures.WithLabelValues(kind).Inc()
}

// RecordJobFinished records a job reaching a terminal status
func RecordJobFinished(status string, elapsed time.Duration) {
	jobsTotal.WithLabelValues(status).Inc()
	jobDuration.Observe(elapsed.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
