package admission

import (
	"context"
	"sync"
	"time"

	"github.com/isqad/robosignal/internal/core"
)

// Lease is the content of an occupied slot
type Lease struct {
	ConnectionID core.ConnectionID `json:"connectionId"`
	Key          string            `json:"key"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// SlotStore holds at most one live lease. An expired lease counts as idle.
type SlotStore interface {
	// Acquire stores lease when the slot is idle; false when it is occupied
	Acquire(ctx context.Context, lease Lease, ttl time.Duration) (bool, error)
	// Current returns the live lease
	Current(ctx context.Context) (Lease, bool, error)
	// Release frees the slot if connID still holds it
	Release(ctx context.Context, connID core.ConnectionID) (bool, error)
	// Refresh extends the lease of connID
	Refresh(ctx context.Context, connID core.ConnectionID, ttl time.Duration) (bool, error)
}

// MemorySlot keeps the lease in process memory
type MemorySlot struct {
	lock  sync.Mutex
	lease *Lease
	clock core.Clock
}

func NewMemorySlot(clock core.Clock) *MemorySlot {
	if clock == nil {
		clock = core.SystemClock()
	}

	return &MemorySlot{clock: clock}
}

func (s *MemorySlot) Acquire(ctx context.Context, lease Lease, ttl time.Duration) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.liveLocked() != nil {
		return false, nil
	}

	lease.ExpiresAt = s.clock.Now().Add(ttl)
	s.lease = &lease

	return true, nil
}

func (s *MemorySlot) Current(ctx context.Context) (Lease, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	lease := s.liveLocked()
	if lease == nil {
		return Lease{}, false, nil
	}

	return *lease, true, nil
}

func (s *MemorySlot) Release(ctx context.Context, connID core.ConnectionID) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.lease == nil || s.lease.ConnectionID != connID {
		return false, nil
	}
	s.lease = nil

	return true, nil
}

func (s *MemorySlot) Refresh(ctx context.Context, connID core.ConnectionID, ttl time.Duration) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	lease := s.liveLocked()
	if lease == nil || lease.ConnectionID != connID {
		return false, nil
	}
	lease.ExpiresAt = s.clock.Now().Add(ttl)

	return true, nil
}

// liveLocked drops an expired lease and returns the live one, if any
func (s *MemorySlot) liveLocked() *Lease {
	if s.lease != nil && !s.clock.Now().Before(s.lease.ExpiresAt) {
		s.lease = nil
	}

	return s.lease
}
