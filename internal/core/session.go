package core

import (
	"time"

	"github.com/google/uuid"
)

// PeerID identifies one signaling connection
type PeerID string

// RoomID is the name of the room peers join to discover each other
type RoomID string

// ConnectionID identifies an admitted exclusive robot session
type ConnectionID string

func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// Clock is the source of time for leases and uptime, replaced in tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock
func SystemClock() Clock {
	return systemClock{}
}
