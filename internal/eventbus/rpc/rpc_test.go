package rpc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/robosignal/internal/core"
)

func TestRpcFromReaderJoin(t *testing.T) {
	for _, payload := range []string{
		`{"jsonrpc":"2.0","method":"join","params":"r1"}`,
		`{"jsonrpc":"2.0","method":"join","params":{"roomId":"r1"}}`,
	} {
		r, err := RpcFromReader(strings.NewReader(payload))
		require.Nil(t, err)

		join, ok := r.(*JoinRpc)
		require.True(t, ok)
		assert.Equal(t, core.RoomID("r1"), join.Params.RoomID)
	}

	_, err := RpcFromReader(strings.NewReader(`{"jsonrpc":"2.0","method":"join","params":{}}`))
	assert.ErrorIs(t, err, ErrMalformedRpc)
}

func TestRpcFromReaderSignal(t *testing.T) {
	payload := `{"jsonrpc":"2.0","method":"ice-candidate","params":{"targetId":"b","candidate":{"candidate":"c1","sdpMid":"0"}}}`

	r, err := RpcFromReader(strings.NewReader(payload))
	require.Nil(t, err)

	signal, ok := r.(*SignalRpc)
	require.True(t, ok)
	assert.Equal(t, ICECandidateMethod, signal.GetMethod())
	assert.Equal(t, core.PeerID("b"), signal.Params.TargetID)
	assert.JSONEq(t, `{"candidate":"c1","sdpMid":"0"}`, string(signal.Params.Payload))
}

func TestRpcFromReaderErrors(t *testing.T) {
	cases := map[string]error{
		`not json`: ErrMalformedRpc,
		`{"jsonrpc":"2.0","params":{}}`:                                    ErrMalformedRpc,
		`{"jsonrpc":"2.0","method":"dance"}`:                               ErrUnknownRpcType,
		`{"jsonrpc":"2.0","method":"offer","params":{"offer":{}}}`:         ErrMalformedRpc,
		`{"jsonrpc":"2.0","method":"offer","params":{"targetId":"b"}}`:     ErrMalformedRpc,
		`{"jsonrpc":"2.0","method":"answer","params":{"targetId":1}}`:      ErrMalformedRpc,
		`{"jsonrpc":"2.0","method":"message","params":["targetId","msg"]}`: ErrMalformedRpc,
	}

	for payload, expected := range cases {
		_, err := RpcFromReader(strings.NewReader(payload))
		assert.ErrorIs(t, err, expected, payload)
	}
}

func TestRelayedSignalToJSON(t *testing.T) {
	msg, err := NewRelayedSignalRpc(OfferMethod, "a", json.RawMessage(`{"type":"offer","sdp":"v=0"}`)).ToJSON()
	require.Nil(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"offer","params":{"sourceId":"a","offer":{"type":"offer","sdp":"v=0"}}}`, string(msg))

	msg, err = NewRelayedSignalRpc(ICECandidateMethod, "a", nil).ToJSON()
	require.Nil(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"ice-candidate","params":{"sourceId":"a","candidate":null}}`, string(msg))
}

func TestEventsToJSON(t *testing.T) {
	msg, err := NewRoomPeersRpc(nil).ToJSON()
	require.Nil(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"room-peers","params":{"peers":[]}}`, string(msg))

	msg, err = NewPeerLeftRpc("a").ToJSON()
	require.Nil(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"peer-left","params":{"peerId":"a"}}`, string(msg))

	msg, err = NewErrorRpc("boom").ToJSON()
	require.Nil(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"error","params":{"message":"boom"}}`, string(msg))
}
