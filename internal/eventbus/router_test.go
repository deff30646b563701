package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/eventbus/rpc"
)

const mockPeerID = core.PeerID("0c4038d6-da68-11ec-9d64-0242ac120002")

type MockCallbacks struct {
	JoinedRoom  core.RoomID
	LeaveFired  bool
	SignalFired *rpc.SignalRpc
}

func (m *MockCallbacks) OnJoin(peerID core.PeerID, roomID core.RoomID) error {
	m.JoinedRoom = roomID
	return nil
}

func (m *MockCallbacks) OnLeave(peerID core.PeerID) error {
	m.LeaveFired = true
	return nil
}

func (m *MockCallbacks) OnSignal(peerID core.PeerID, signal *rpc.SignalRpc) error {
	m.SignalFired = signal
	return nil
}

func newMockRouter(callbacks *MockCallbacks) *Router {
	router := NewRouter()
	router.OnJoin(callbacks.OnJoin)
	router.OnLeave(callbacks.OnLeave)
	router.OnSignal(callbacks.OnSignal)

	return router
}

func TestOnJoin(t *testing.T) {
	callbacks := &MockCallbacks{}
	router := newMockRouter(callbacks)

	err := router.Route(mockPeerID, []byte(`{"jsonrpc":"2.0","method":"join","params":"r1"}`))
	assert.Nil(t, err)
	assert.Equal(t, core.RoomID("r1"), callbacks.JoinedRoom)
}

func TestOnLeave(t *testing.T) {
	callbacks := &MockCallbacks{}
	router := newMockRouter(callbacks)

	err := router.Route(mockPeerID, []byte(`{"jsonrpc":"2.0","method":"leave"}`))
	assert.Nil(t, err)
	assert.True(t, callbacks.LeaveFired)
}

func TestOnSignal(t *testing.T) {
	callbacks := &MockCallbacks{}
	router := newMockRouter(callbacks)

	err := router.Route(mockPeerID, []byte(`{"jsonrpc":"2.0","method":"answer","params":{"targetId":"b","answer":{"type":"answer","sdp":"v=0"}}}`))
	assert.Nil(t, err)
	if assert.NotNil(t, callbacks.SignalFired) {
		assert.Equal(t, rpc.AnswerMethod, callbacks.SignalFired.GetMethod())
		assert.Equal(t, core.PeerID("b"), callbacks.SignalFired.Params.TargetID)
	}
}

func TestRouteErrors(t *testing.T) {
	router := NewRouter()

	err := router.Route(mockPeerID, []byte(`{"jsonrpc":"2.0","method":"join","params":"r1"}`))
	assert.ErrorIs(t, err, errNoCallback)

	err = router.Route(mockPeerID, []byte(`{`))
	assert.ErrorIs(t, err, rpc.ErrMalformedRpc)

	err = router.Route(mockPeerID, []byte(`{"jsonrpc":"2.0","method":"peer-left","params":{"peerId":"x"}}`))
	assert.ErrorIs(t, err, rpc.ErrUnknownRpcType)
}
