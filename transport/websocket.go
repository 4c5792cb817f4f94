package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d1nch8g/convo/logging"
)

// Config tunes the websocket transport.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	SendBuffer       int
	MaxMessageSize   int64
}

func (c *Config) withDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 << 20
	}
}

// WSDialer dials agents over gorilla/websocket.
type WSDialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ Dialer = (*WSDialer)(nil)

func NewWSDialer(cfg Config, logger *zap.Logger) *WSDialer {
	cfg.withDefaults()
	return &WSDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: logging.OrNop(logger),
	}
}

// Dial opens the chat socket for agentID and starts its write pump.
func (d *WSDialer) Dial(ctx context.Context, agentID string) (Conn, error) {
	target, err := ChatURL(d.cfg.URL, agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	conn, resp, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %s: %w", ErrConnectionFailure, target, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailure, target, err)
	}

	d.logger.Debug("transport open", zap.String("url", target))
	c := newWSConn(conn, d.cfg, d.logger)
	go c.writePump()
	return c, nil
}

// wsConn implements Conn. The write pump is the only data writer; Close
// uses WriteControl, which gorilla allows concurrently with other writes.
type wsConn struct {
	conn   *websocket.Conn
	cfg    Config
	logger *zap.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, cfg Config, logger *zap.Logger) *wsConn {
	return &wsConn{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, cfg.SendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(chunk []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- chunk:
		return true
	default:
		return false
	}
}

func (c *wsConn) Receive(ctx context.Context, deliver func(Frame)) error {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("transport read: %w", err)
		}
		// Any inbound traffic proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		deliver(Classify(msgType, data))
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		go func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("transport close", zap.Error(err))
			}
		}()
	})
	return nil
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// writePump sends queued chunks as binary messages and keeps the
// connection alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case chunk := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				if !c.isClosed() {
					c.logger.Warn("transport write failed", zap.Error(err))
					c.Close()
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				if !c.isClosed() {
					c.logger.Warn("transport ping failed", zap.Error(err))
					c.Close()
				}
				return
			}

		case <-c.closed:
			return
		}
	}
}
