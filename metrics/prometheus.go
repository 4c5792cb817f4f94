// Package metrics exposes prometheus instrumentation for the streaming core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame kinds for FramesReceived.
const (
	KindAudio   = "audio"
	KindIgnored = "ignored"
)

// Session outcomes for Sessions.
const (
	OutcomeStopped      = "stopped"
	OutcomeRemoteClosed = "remote_closed"
	OutcomeFailed       = "failed"
)

// Metrics contains all Prometheus metrics of the client.
type Metrics struct {
	// Outbound capture
	ChunksSent    prometheus.Counter
	ChunksDropped prometheus.Counter
	BytesSent     prometheus.Counter

	// Inbound playback
	FramesReceived *prometheus.CounterVec
	ChunksPlayed   prometheus.Counter
	DecodeErrors   prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Session lifecycle
	Sessions      *prometheus.CounterVec
	SessionStatus prometheus.Gauge
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_chunks_sent_total",
			Help: "Captured audio chunks handed to the transport",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_chunks_dropped_total",
			Help: "Captured audio chunks dropped because the transport was not open or its send buffer was full",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_bytes_sent_total",
			Help: "Captured audio bytes handed to the transport",
		}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_frames_received_total",
			Help: "Inbound transport frames by kind",
		}, []string{"kind"}),
		ChunksPlayed: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_chunks_played_total",
			Help: "Inbound audio chunks played to completion",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "convo_decode_errors_total",
			Help: "Inbound audio chunks skipped because they could not be decoded",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "convo_playback_queue_depth",
			Help: "Inbound chunks waiting for playback",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_sessions_total",
			Help: "Finished sessions by outcome",
		}, []string{"outcome"}),
		SessionStatus: f.NewGauge(prometheus.GaugeOpts{
			Name: "convo_session_status",
			Help: "Current session status (0 disconnected, 1 connecting, 2 connected, 3 error)",
		}),
	}
}

func (m *Metrics) ChunkSent(n int) {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(n))
}

func (m *Metrics) ChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) ChunkPlayed() {
	if m == nil {
		return
	}
	m.ChunksPlayed.Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetStatus(code int) {
	if m == nil {
		return
	}
	m.SessionStatus.Set(float64(code))
}
