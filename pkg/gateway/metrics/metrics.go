package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-go/live-relay/pkg/relay"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Audio metrics
	AudioFramesTotal *prometheus.CounterVec
	AudioBytesTotal  *prometheus.CounterVec

	// Remote failure metrics
	RemoteFailuresTotal *prometheus.CounterVec

	// Queue metrics
	InboundQueued prometheus.Gauge

	// Upgrades refused before a session started.
	RejectedTotal *prometheus.CounterVec
}

var _ relay.Recorder = (*Metrics)(nil)

// New creates a Metrics instance with all collectors registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "live_relay"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of relay sessions currently running",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished relay sessions by terminal state",
		},
		[]string{"state"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Relay session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"model"},
	)

	audioFramesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Total audio frames relayed",
		},
		[]string{"direction"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes relayed",
		},
		[]string{"direction"},
	)

	remoteFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Transient remote send/receive failures absorbed by sessions",
		},
		[]string{"operation"},
	)

	inboundQueued := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbound_queue_frames",
			Help:      "Remote audio frames waiting to be written to clients",
		},
	)

	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrades_rejected_total",
			Help:      "WebSocket upgrades refused before a session started",
		},
		[]string{"reason"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioFramesTotal,
		audioBytesTotal,
		remoteFailuresTotal,
		inboundQueued,
		rejectedTotal,
	)

	return &Metrics{
		registry:            registry,
		SessionsActive:      sessionsActive,
		SessionsTotal:       sessionsTotal,
		SessionDuration:     sessionDuration,
		AudioFramesTotal:    audioFramesTotal,
		AudioBytesTotal:     audioBytesTotal,
		RemoteFailuresTotal: remoteFailuresTotal,
		InboundQueued:       inboundQueued,
		RejectedTotal:       rejectedTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a relay session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a relay session ending.
func (m *Metrics) RecordSessionEnd(model string, state relay.State, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(state.String()).Inc()
	m.SessionDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordRejected records an upgrade refused before a session started.
func (m *Metrics) RecordRejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAudio(direction string, bytes int) {
	m.AudioFramesTotal.WithLabelValues(direction).Inc()
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

func (m *Metrics) RecordSendFailure() {
	m.RemoteFailuresTotal.WithLabelValues("send").Inc()
}

func (m *Metrics) RecordReceiveFailure() {
	m.RemoteFailuresTotal.WithLabelValues("receive").Inc()
}

func (m *Metrics) AddInboundQueued(delta int) {
	m.InboundQueued.Add(float64(delta))
}
