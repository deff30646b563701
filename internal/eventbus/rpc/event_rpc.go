package rpc

import (
	"encoding/json"

	"github.com/isqad/robosignal/internal/core"
)

type PeerParams struct {
	PeerID core.PeerID `json:"peerId"`
}

// PeerEventRpc notifies a client about a peer: connected, peer-joined, peer-left
type PeerEventRpc struct {
	jsonRpcHead
	Params PeerParams `json:"params"`
}

func newPeerEventRpc(method Method, peerID core.PeerID) *PeerEventRpc {
	return &PeerEventRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: PeerParams{PeerID: peerID},
	}
}

func NewConnectedRpc(peerID core.PeerID) *PeerEventRpc {
	return newPeerEventRpc(ConnectedMethod, peerID)
}

func NewPeerJoinedRpc(peerID core.PeerID) *PeerEventRpc {
	return newPeerEventRpc(PeerJoinedMethod, peerID)
}

func NewPeerLeftRpc(peerID core.PeerID) *PeerEventRpc {
	return newPeerEventRpc(PeerLeftMethod, peerID)
}

func (r PeerEventRpc) GetMethod() Method {
	return r.Method
}

func (r PeerEventRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type RoomPeersParams struct {
	Peers []core.PeerID `json:"peers"`
}

type RoomPeersRpc struct {
	jsonRpcHead
	Params RoomPeersParams `json:"params"`
}

func NewRoomPeersRpc(peers []core.PeerID) *RoomPeersRpc {
	if peers == nil {
		peers = []core.PeerID{}
	}

	return &RoomPeersRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  RoomPeersMethod,
		},
		Params: RoomPeersParams{Peers: peers},
	}
}

func (r RoomPeersRpc) GetMethod() Method {
	return r.Method
}

func (r RoomPeersRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type ErrorParams struct {
	Message string `json:"message"`
}

type ErrorRpc struct {
	jsonRpcHead
	Params ErrorParams `json:"params"`
}

func NewErrorRpc(message string) *ErrorRpc {
	return &ErrorRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  ErrorMethod,
		},
		Params: ErrorParams{Message: message},
	}
}

func (r ErrorRpc) GetMethod() Method {
	return r.Method
}

func (r ErrorRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
