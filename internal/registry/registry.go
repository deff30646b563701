// Package registry keeps track of connected signaling peers and the rooms
// they belong to. All state lives behind a single mutex owned by Registry.
package registry

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/isqad/robosignal/internal/core"
)

var (
	ErrPeerNotFound = errors.New("peer not found")
	ErrPeerExists   = errors.New("peer already registered")
	ErrEmptyRoomID  = errors.New("room id is empty")
)

type peer struct {
	id     core.PeerID
	roomID core.RoomID

	offers     map[core.PeerID]json.RawMessage
	candidates map[core.PeerID][]json.RawMessage
}

// Departure describes a peer leaving a room; Remaining are the members
// that should be told about it.
type Departure struct {
	PeerID    core.PeerID
	RoomID    core.RoomID
	Remaining []core.PeerID
}

// JoinResult is returned by Join
type JoinResult struct {
	// Others are the room members excluding the joining peer
	Others []core.PeerID
	// Rejoined is true when the peer was already a member of the room
	Rejoined bool
	// Left is set when the peer was moved out of another room
	Left *Departure
}

// Stats is a point in time snapshot of the directory size
type Stats struct {
	Rooms int `json:"rooms"`
	Peers int `json:"peers"`
}

type Registry struct {
	lock  sync.Mutex
	peers map[core.PeerID]*peer
	rooms map[core.RoomID]map[core.PeerID]struct{}
}

func New() *Registry {
	return &Registry{
		peers: make(map[core.PeerID]*peer),
		rooms: make(map[core.RoomID]map[core.PeerID]struct{}),
	}
}

// Register creates the entry for a freshly connected peer. The peer is not
// a member of any room until Join.
func (r *Registry) Register(id core.PeerID) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.peers[id]; ok {
		return ErrPeerExists
	}
	r.peers[id] = newPeer(id)

	return nil
}

// Join inserts the peer into the room, creating the room if absent.
func (r *Registry) Join(id core.PeerID, roomID core.RoomID) (JoinResult, error) {
	if roomID == "" {
		return JoinResult{}, ErrEmptyRoomID
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return JoinResult{}, ErrPeerNotFound
	}

	result := JoinResult{}

	switch p.roomID {
	case roomID:
		result.Rejoined = true
	case "":
	default:
		d := r.removeFromRoom(p)
		result.Left = &d
		// bookkeeping is scoped to the room the negotiations happened in
		p.offers = make(map[core.PeerID]json.RawMessage)
		p.candidates = make(map[core.PeerID][]json.RawMessage)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[core.PeerID]struct{})
		r.rooms[roomID] = members
	}
	members[id] = struct{}{}
	p.roomID = roomID

	result.Others = membersExcept(members, id)

	return result, nil
}

// Leave removes the peer from its room and forgets it. The boolean is false
// when the peer was already removed, so callers never broadcast twice.
func (r *Registry) Leave(id core.PeerID) (Departure, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return Departure{}, false
	}
	delete(r.peers, id)

	if p.roomID == "" {
		return Departure{PeerID: id}, true
	}

	return r.removeFromRoom(p), true
}

// RecordOffer stores the last offer sent by peer to target
func (r *Registry) RecordOffer(id, target core.PeerID, offer json.RawMessage) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	p.offers[target] = cloneRaw(offer)

	return nil
}

// RecordCandidate appends a candidate sent by peer to target, keeping
// transmission order.
func (r *Registry) RecordCandidate(id, target core.PeerID, candidate json.RawMessage) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	p.candidates[target] = append(p.candidates[target], cloneRaw(candidate))

	return nil
}

func (r *Registry) Offer(id, target core.PeerID) (json.RawMessage, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return nil, ErrPeerNotFound
	}

	return cloneRaw(p.offers[target]), nil
}

func (r *Registry) Candidates(id, target core.PeerID) ([]json.RawMessage, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return nil, ErrPeerNotFound
	}

	out := make([]json.RawMessage, 0, len(p.candidates[target]))
	for _, c := range p.candidates[target] {
		out = append(out, cloneRaw(c))
	}

	return out, nil
}

// RoomOf returns the room of the peer, empty when it has not joined yet
func (r *Registry) RoomOf(id core.PeerID) (core.RoomID, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return "", ErrPeerNotFound
	}

	return p.roomID, nil
}

// Members returns the sorted member ids of a room
func (r *Registry) Members(roomID core.RoomID) []core.PeerID {
	r.lock.Lock()
	defer r.lock.Unlock()

	return membersExcept(r.rooms[roomID], "")
}

func (r *Registry) Stats() Stats {
	r.lock.Lock()
	defer r.lock.Unlock()

	return Stats{Rooms: len(r.rooms), Peers: len(r.peers)}
}

// removeFromRoom must be called with the lock held
func (r *Registry) removeFromRoom(p *peer) Departure {
	d := Departure{PeerID: p.id, RoomID: p.roomID}

	members, ok := r.rooms[p.roomID]
	if ok {
		delete(members, p.id)
		if len(members) == 0 {
			delete(r.rooms, p.roomID)
		} else {
			d.Remaining = membersExcept(members, "")
		}
	}
	p.roomID = ""

	return d
}

func newPeer(id core.PeerID) *peer {
	return &peer{
		id:         id,
		offers:     make(map[core.PeerID]json.RawMessage),
		candidates: make(map[core.PeerID][]json.RawMessage),
	}
}

func membersExcept(members map[core.PeerID]struct{}, except core.PeerID) []core.PeerID {
	out := make([]core.PeerID, 0, len(members))
	for id := range members {
		if id != except {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)

	return out
}
