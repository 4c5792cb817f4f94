package engine

import (
	"github.com/google/uuid"
)

// Status is the observable state of the manager.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusEvent describes one status transition. SessionID and AgentID
// identify the session that caused it; Err is set for StatusError and for
// a disconnect caused by a transport failure.
type StatusEvent struct {
	Status    Status
	SessionID uuid.UUID
	AgentID   string
	Err       error
}
