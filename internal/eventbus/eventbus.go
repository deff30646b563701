package eventbus

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/eventbus/rpc"
	"github.com/isqad/robosignal/internal/telemetry"
)

const DefaultInboxSize = 256

var (
	ErrPeerNotFound      = errors.New("peer has no inbox")
	ErrAlreadySubscribed = errors.New("peer inbox already exists")
	ErrInboxFull         = errors.New("peer inbox is full")
)

type Publisher interface {
	PublishClient(peerID core.PeerID, r rpc.Rpc) error
}

type Subscriber interface {
	SubscribeClient(peerID core.PeerID) (*Subscription, error)
}

// Subscription is the inbox of one peer. Messages come out of Channel in
// the order they were published.
type Subscription struct {
	peerID core.PeerID
	bus    *Eventbus
	ch     chan []byte
	once   sync.Once
}

func (s *Subscription) Channel() <-chan []byte {
	return s.ch
}

// Close removes the inbox from the bus and closes the channel. Pending
// messages are still readable.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
	})
	return nil
}

// Eventbus delivers server messages to the inboxes of the peers connected
// to this node.
type Eventbus struct {
	lock      sync.RWMutex
	inboxes   map[core.PeerID]*Subscription
	inboxSize int
}

// Local is factory for building Eventbus with in-memory inboxes
func Local(inboxSize int) *Eventbus {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}

	return &Eventbus{
		inboxes:   make(map[core.PeerID]*Subscription),
		inboxSize: inboxSize,
	}
}

func (e *Eventbus) PublishClient(peerID core.PeerID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}

	e.lock.RLock()
	defer e.lock.RUnlock()

	sub, ok := e.inboxes[peerID]
	if !ok {
		return ErrPeerNotFound
	}

	select {
	case sub.ch <- msg:
		return nil
	default:
		// the message is lost; the socket writer is stuck or too slow
		telemetry.ServiceOperationCounter.WithLabelValues("inbox_publish", "error", "inbox_full").Inc()
		log.Warn().Str("service", "eventbus").Str("peerId", string(peerID)).Str("method", string(r.GetMethod())).Int("inboxSize", e.inboxSize).Msg("inbox is full, message dropped")
		return ErrInboxFull
	}
}

func (e *Eventbus) SubscribeClient(peerID core.PeerID) (*Subscription, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if _, ok := e.inboxes[peerID]; ok {
		return nil, ErrAlreadySubscribed
	}

	sub := &Subscription{
		peerID: peerID,
		bus:    e,
		ch:     make(chan []byte, e.inboxSize),
	}
	e.inboxes[peerID] = sub

	return sub, nil
}

func (e *Eventbus) remove(sub *Subscription) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if current, ok := e.inboxes[sub.peerID]; ok && current == sub {
		delete(e.inboxes, sub.peerID)
	}
	// senders hold the read lock, so nobody writes to a closed channel
	close(sub.ch)
}
