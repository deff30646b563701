package rpc

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/isqad/robosignal/internal/core"
)

// EventFromReader decodes an rpc the server delivered to a client. It is
// the client side counterpart of RpcFromReader.
func EventFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(rpc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}

	switch rpc.Method {
	case ConnectedMethod, PeerJoinedMethod, PeerLeftMethod:
		params := PeerParams{}
		if err := json.Unmarshal(rpc.Params, &params); err != nil || params.PeerID == "" {
			return nil, fmt.Errorf("%w: peerId is required", ErrMalformedRpc)
		}

		return newPeerEventRpc(rpc.Method, params.PeerID), nil
	case RoomPeersMethod:
		params := RoomPeersParams{}
		if err := json.Unmarshal(rpc.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
		}

		return NewRoomPeersRpc(params.Peers), nil
	case ErrorMethod:
		params := ErrorParams{}
		if err := json.Unmarshal(rpc.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
		}

		return NewErrorRpc(params.Message), nil
	case OfferMethod, AnswerMethod, ICECandidateMethod, MessageMethod:
		return relayedSignalFromParams(rpc.Method, rpc.Params)
	case "":
		return nil, fmt.Errorf("%w: method is required", ErrMalformedRpc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRpcType, rpc.Method)
	}
}

func relayedSignalFromParams(method Method, raw json.RawMessage) (*SignalRpc, error) {
	params := struct {
		SourceID core.PeerID `json:"sourceId"`
	}{}
	if err := json.Unmarshal(raw, &params); err != nil || params.SourceID == "" {
		return nil, fmt.Errorf("%w: sourceId is required", ErrMalformedRpc)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}

	return NewRelayedSignalRpc(method, params.SourceID, fields[PayloadField(method)]), nil
}
