package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	// client -> server
	JoinMethod  Method = "join"
	LeaveMethod Method = "leave"

	// relayed in both directions
	OfferMethod        Method = "offer"
	AnswerMethod       Method = "answer"
	ICECandidateMethod Method = "ice-candidate"
	MessageMethod      Method = "message"

	// server -> client
	ConnectedMethod  Method = "connected"
	RoomPeersMethod  Method = "room-peers"
	PeerJoinedMethod Method = "peer-joined"
	PeerLeftMethod   Method = "peer-left"
	ErrorMethod      Method = "error"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

// IsSignal reports whether the method carries a relayed negotiation payload
func (m Method) IsSignal() bool {
	switch m {
	case OfferMethod, AnswerMethod, ICECandidateMethod, MessageMethod:
		return true
	}
	return false
}

// RpcFromReader decodes the rpc a client sent over the signaling socket
func RpcFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(rpc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}

	switch rpc.Method {
	case JoinMethod:
		params := JoinParams{}
		if err := json.Unmarshal(rpc.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
		}
		if params.RoomID == "" {
			return nil, fmt.Errorf("%w: roomId is required", ErrMalformedRpc)
		}

		return NewJoinRpc(params.RoomID), nil
	case LeaveMethod:
		return NewLeaveRpc(), nil
	case OfferMethod, AnswerMethod, ICECandidateMethod, MessageMethod:
		return signalFromParams(rpc.Method, rpc.Params)
	case "":
		return nil, fmt.Errorf("%w: method is required", ErrMalformedRpc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRpcType, rpc.Method)
	}
}
