// Package engine drives one streaming session at a time: it opens the
// transport, starts microphone capture once the transport is open, and
// routes inbound audio into the playback queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d1nch8g/convo/audio"
	"github.com/d1nch8g/convo/config"
	"github.com/d1nch8g/convo/eventloop"
	"github.com/d1nch8g/convo/logging"
	"github.com/d1nch8g/convo/metrics"
	"github.com/d1nch8g/convo/sound"
	"github.com/d1nch8g/convo/transport"
)

var (
	// ErrInvalidState is returned by Start when a session is already live or
	// the previous one failed and has not been stopped.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrClosed is returned once Run has returned.
	ErrClosed = errors.New("manager closed")
	// ErrNoAgent is returned by Start when no agent id is given or configured.
	ErrNoAgent = errors.New("agent id is required")
)

const subscriberBuffer = 16

// Options holds the collaborators of a Manager.
type Options struct {
	Config  *config.Config
	Dialer  transport.Dialer
	Source  audio.Source
	Decoder sound.Decoder
	Player  sound.Player
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Manager owns the session lifecycle. Start, Stop, Status, Err and
// Subscribe are safe for concurrent use; everything else runs on the
// manager's event loop.
type Manager struct {
	defaultAgent string
	dialer       transport.Dialer
	source       audio.Source
	decoder      sound.Decoder
	player       sound.Player
	logger       *zap.Logger
	metrics      *metrics.Metrics

	loop *eventloop.Loop

	// loop-only
	state   Status
	session *session
	capture *audio.Capture // shared by sessions so a restart waits for the previous device

	status atomic.Int32

	mu      sync.Mutex
	lastErr error
	subs    map[int]chan StatusEvent
	nextSub int
	closed  bool
}

// session is everything owned by one start..stop span.
type session struct {
	id      uuid.UUID
	agentID string
	logger  *zap.Logger
	cancel  context.CancelFunc

	conn     transport.Conn
	capture  *audio.Capture
	playback *sound.Queue
}

func NewManager(opts Options) *Manager {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = sound.AutoDecoder{}
	}
	m := &Manager{
		defaultAgent: cfg.Server.AgentID,
		dialer:       opts.Dialer,
		source:       opts.Source,
		decoder:      decoder,
		player:       opts.Player,
		logger:       logging.OrNop(opts.Logger),
		metrics:      opts.Metrics,
		loop:         eventloop.New(),
		subs:         make(map[int]chan StatusEvent),
	}
	m.capture = audio.NewCapture(m.source, m.loop.Post, m.logger)
	return m
}

// Run processes session events until ctx is done, then tears down any live
// session, waits until the microphone is closed and closes all
// subscriptions. It must be called exactly once.
func (m *Manager) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.loop.Done():
			return
		}
		m.loop.Post(func() {
			if s := m.session; s != nil {
				m.teardown(s)
				m.metrics.SessionEnded(metrics.OutcomeStopped)
				m.setStatus(StatusDisconnected, s, nil)
			}
			cancel()
		})
	}()

	m.loop.Run(loopCtx)

	// The loop has stopped; the capture is no longer touched elsewhere.
	<-m.capture.Released()

	m.mu.Lock()
	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	m.logger.Info("connection manager stopped")
	return ctx.Err()
}

// Start opens a session to agentID, or to the configured agent when
// agentID is empty. It returns once the session is connecting; the outcome
// is reported through status events.
func (m *Manager) Start(agentID string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		agentID = m.defaultAgent
	}
	if agentID == "" {
		return ErrNoAgent
	}

	var err error
	if !m.loop.Call(func() { err = m.start(agentID) }) {
		return ErrClosed
	}
	return err
}

// Stop ends the current session, discarding all buffered audio. It is a
// no-op when nothing is live.
func (m *Manager) Stop() error {
	if !m.loop.Call(m.stop) {
		return ErrClosed
	}
	return nil
}

func (m *Manager) Status() Status {
	return Status(m.status.Load())
}

// Err returns the error of the last transition, nil if it had none.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscribe returns a channel of status transitions and a function that
// cancels the subscription. Events are dropped for a subscriber that falls
// more than a few transitions behind.
func (m *Manager) Subscribe() (<-chan StatusEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan StatusEvent, subscriberBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

func (m *Manager) start(agentID string) error {
	if m.state != StatusDisconnected {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, m.state)
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      id,
		agentID: agentID,
		cancel:  cancel,
		logger: m.logger.With(
			zap.String("session_id", id.String()),
			zap.String("agent_id", agentID),
		),
	}
	m.session = s
	m.setStatus(StatusConnecting, s, nil)

	go func() {
		conn, err := m.dialer.Dial(ctx, agentID)
		if !m.loop.Post(func() { m.onDialed(ctx, s, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
	return nil
}

func (m *Manager) onDialed(ctx context.Context, s *session, conn transport.Conn, err error) {
	if m.session != s {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.fail(s, err)
		return
	}

	s.conn = conn
	s.playback = sound.NewQueue(m.decoder, m.player, m.loop.Post, s.logger, m.metrics)
	s.capture = m.capture
	m.setStatus(StatusConnected, s, nil)

	go func() {
		err := conn.Receive(ctx, func(f transport.Frame) {
			m.loop.Post(func() { m.onFrame(s, f) })
		})
		m.loop.Post(func() { m.onTransportClosed(s, err) })
	}()

	err = s.capture.Start(audio.Handlers{
		Ready: func(err error) {
			if m.session == s && err != nil {
				m.fail(s, fmt.Errorf("acquire microphone: %w", err))
			}
		},
		Chunk: func(chunk []byte) {
			m.onChunk(s, chunk)
		},
		Failed: func(err error) {
			if m.session == s {
				m.fail(s, fmt.Errorf("microphone: %w", err))
			}
		},
	})
	if err != nil {
		m.fail(s, err)
	}
}

func (m *Manager) onChunk(s *session, chunk []byte) {
	if m.session != s || s.conn == nil {
		m.metrics.ChunkDropped()
		return
	}
	if !s.conn.Send(chunk) {
		m.metrics.ChunkDropped()
		return
	}
	m.metrics.ChunkSent(len(chunk))
}

func (m *Manager) onFrame(s *session, f transport.Frame) {
	if m.session != s {
		return
	}
	switch f.Kind {
	case transport.AudioFrame:
		m.metrics.FrameReceived(metrics.KindAudio)
		s.playback.Enqueue(f.Data)
	default:
		m.metrics.FrameReceived(metrics.KindIgnored)
		s.logger.Debug("ignoring non-audio frame", zap.Int("size", len(f.Data)))
	}
}

func (m *Manager) onTransportClosed(s *session, err error) {
	if m.session != s {
		return
	}
	if err != nil {
		s.logger.Warn("transport closed with error", zap.Error(err))
	}
	m.teardown(s)
	m.metrics.SessionEnded(metrics.OutcomeRemoteClosed)
	m.setStatus(StatusDisconnected, s, err)
}

func (m *Manager) stop() {
	s := m.session
	if s == nil && m.state == StatusDisconnected {
		return
	}
	if s != nil {
		m.teardown(s)
		m.metrics.SessionEnded(metrics.OutcomeStopped)
	}
	m.setStatus(StatusDisconnected, s, nil)
}

func (m *Manager) fail(s *session, err error) {
	s.logger.Error("session failed", zap.Error(err))
	m.teardown(s)
	m.metrics.SessionEnded(metrics.OutcomeFailed)
	m.setStatus(StatusError, s, err)
}

// teardown releases everything s owns. Callbacks still in flight for s
// become no-ops because m.session no longer points at it.
func (m *Manager) teardown(s *session) {
	m.session = nil
	s.cancel()
	if s.capture != nil {
		s.capture.Stop()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("failed to close transport", zap.Error(err))
		}
	}
	if s.playback != nil {
		s.playback.Clear()
	}
}

func (m *Manager) setStatus(st Status, s *session, err error) {
	prev := m.state
	m.state = st
	m.status.Store(int32(st))
	m.metrics.SetStatus(int(st))

	ev := StatusEvent{Status: st, Err: err}
	if s != nil {
		ev.SessionID = s.id
		ev.AgentID = s.agentID
	}

	logger := m.logger
	if s != nil {
		logger = s.logger
	}
	logger.Info("status changed", zap.Stringer("from", prev), zap.Stringer("to", st))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			logger.Debug("status subscriber is behind, dropping event")
		}
	}
}
