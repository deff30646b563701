package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/isqad/robosignal/internal/core"
)

// SignalParams carries a negotiation payload between two peers. The payload
// is opaque to the server and is serialized under a key that depends on the
// method, see PayloadField.
type SignalParams struct {
	TargetID core.PeerID
	SourceID core.PeerID
	Payload  json.RawMessage
}

// SignalRpc is an offer, answer, ice-candidate or message rpc
type SignalRpc struct {
	jsonRpcHead
	Params SignalParams
}

// PayloadField returns the params key that holds the payload of method m
func PayloadField(m Method) string {
	switch m {
	case ICECandidateMethod:
		return "candidate"
	default:
		return string(m)
	}
}

// NewSignalRpc builds the client side rpc addressed to target
func NewSignalRpc(method Method, target core.PeerID, payload json.RawMessage) *SignalRpc {
	return &SignalRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: SignalParams{TargetID: target, Payload: payload},
	}
}

// NewRelayedSignalRpc builds the rpc delivered to the target, tagged with the sender
func NewRelayedSignalRpc(method Method, source core.PeerID, payload json.RawMessage) *SignalRpc {
	return &SignalRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: SignalParams{SourceID: source, Payload: payload},
	}
}

func (r SignalRpc) GetMethod() Method {
	return r.Method
}

func (r SignalRpc) ToJSON() ([]byte, error) {
	params := make(map[string]interface{}, 2)
	if r.Params.TargetID != "" {
		params["targetId"] = r.Params.TargetID
	}
	if r.Params.SourceID != "" {
		params["sourceId"] = r.Params.SourceID
	}
	payload := r.Params.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	params[PayloadField(r.Method)] = payload

	return json.Marshal(struct {
		jsonRpcHead
		Params map[string]interface{} `json:"params"`
	}{r.jsonRpcHead, params})
}

func signalFromParams(method Method, raw json.RawMessage) (*SignalRpc, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRpc, err)
	}

	var target string
	if rawTarget, ok := fields["targetId"]; ok {
		if err := json.Unmarshal(rawTarget, &target); err != nil {
			return nil, fmt.Errorf("%w: targetId must be a string", ErrMalformedRpc)
		}
	}
	if target == "" {
		return nil, fmt.Errorf("%w: targetId is required", ErrMalformedRpc)
	}

	payload, ok := fields[PayloadField(method)]
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", ErrMalformedRpc, PayloadField(method))
	}

	return NewSignalRpc(method, core.PeerID(target), payload), nil
}
