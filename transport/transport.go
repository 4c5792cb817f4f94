// Package transport carries audio chunks between the client and the remote
// agent over a persistent websocket. Inbound messages are classified into
// tagged frames at this boundary; only binary messages count as audio.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// ErrConnectionFailure is returned when the transport cannot be opened.
var ErrConnectionFailure = errors.New("connection failure")

// FrameKind tags an inbound frame.
type FrameKind int

const (
	AudioFrame   FrameKind = iota // binary payload, playable audio
	IgnoredFrame                  // anything else; never reaches playback
)

func (k FrameKind) String() string {
	switch k {
	case AudioFrame:
		return "audio"
	case IgnoredFrame:
		return "ignored"
	default:
		return "unknown"
	}
}

// Frame is one inbound transport message after classification.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Classify maps a websocket message type to a frame.
func Classify(messageType int, data []byte) Frame {
	if messageType == websocket.BinaryMessage {
		return Frame{Kind: AudioFrame, Data: data}
	}
	return Frame{Kind: IgnoredFrame, Data: data}
}

// Conn is an open transport.
type Conn interface {
	// Send queues one binary chunk for transmission. It never blocks; it
	// returns false when the chunk was dropped because the connection is
	// closed or its send buffer is full.
	Send(chunk []byte) bool

	// Receive reads frames in arrival order and hands each one to deliver.
	// It blocks until the connection ends and returns nil for a normal
	// closure (either side) or the read error otherwise.
	Receive(ctx context.Context, deliver func(Frame)) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens transports to agents.
type Dialer interface {
	Dial(ctx context.Context, agentID string) (Conn, error)
}

// ChatURL returns the chat endpoint of agentID under base, e.g.
// ws://localhost:8000/ws/chat/<agentID>.
func ChatURL(base, agentID string) (string, error) {
	if strings.TrimSpace(agentID) == "" {
		return "", fmt.Errorf("agent id is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("server url scheme must be ws or wss, got %q", u.Scheme)
	}
	return u.JoinPath("ws", "chat", agentID).String(), nil
}
