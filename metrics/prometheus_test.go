package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ChunkSent(320)
	m.ChunkSent(320)
	m.ChunkDropped()
	m.FrameReceived(KindAudio)
	m.FrameReceived(KindIgnored)
	m.FrameReceived(KindAudio)
	m.ChunkPlayed()
	m.DecodeError()
	m.SetQueueDepth(4)
	m.SessionEnded(OutcomeFailed)
	m.SetStatus(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunksSent))
	assert.Equal(t, 640.0, testutil.ToFloat64(m.BytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues(KindAudio)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues(KindIgnored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksPlayed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionStatus))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChunkSent(1)
		m.ChunkDropped()
		m.FrameReceived(KindAudio)
		m.ChunkPlayed()
		m.DecodeError()
		m.SetQueueDepth(1)
		m.SessionEnded(OutcomeStopped)
		m.SetStatus(0)
	})
}
