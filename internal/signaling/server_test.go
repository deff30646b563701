package signaling

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/robosignal/internal/eventbus"
	"github.com/isqad/robosignal/internal/registry"
)

type testRpc struct {
	Method string                     `json:"method"`
	Params map[string]json.RawMessage `json:"params"`
}

func (r testRpc) str(t *testing.T, key string) string {
	var s string
	require.Nil(t, json.Unmarshal(r.Params[key], &s), key)
	return s
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	reg := registry.New()
	bus := eventbus.Local(16)
	relay := NewRelay(reg, bus, RelayOptions{})
	server := NewServer(reg, bus, relay, ServerOptions{})

	r := chi.NewRouter()
	r.Get("/ws", server.Handler())
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})

	return server, ts
}

func dial(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.Nil(t, err)
	t.Cleanup(func() { conn.Close() })

	connected := read(t, conn)
	require.Equal(t, "connected", connected.Method)

	return conn, connected.str(t, "peerId")
}

func read(t *testing.T, conn *websocket.Conn) testRpc {
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	msg := testRpc{}
	require.Nil(t, conn.ReadJSON(&msg))

	return msg
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	require.Nil(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func TestJoinAndOffer(t *testing.T) {
	server, ts := newTestServer(t)

	connA, idA := dial(t, ts)
	connB, idB := dial(t, ts)

	send(t, connA, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	peers := read(t, connA)
	assert.Equal(t, "room-peers", peers.Method)
	assert.JSONEq(t, `[]`, string(peers.Params["peers"]))

	send(t, connB, `{"jsonrpc":"2.0","method":"join","params":{"roomId":"r1"}}`)
	peers = read(t, connB)
	assert.Equal(t, "room-peers", peers.Method)
	assert.JSONEq(t, `["`+idA+`"]`, string(peers.Params["peers"]))

	joined := read(t, connA)
	assert.Equal(t, "peer-joined", joined.Method)
	assert.Equal(t, idB, joined.str(t, "peerId"))

	send(t, connA, `{"jsonrpc":"2.0","method":"offer","params":{"targetId":"`+idB+`","offer":{"type":"offer","sdp":"v=0"}}}`)
	offer := read(t, connB)
	assert.Equal(t, "offer", offer.Method)
	assert.Equal(t, idA, offer.str(t, "sourceId"))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.Params["offer"]))

	send(t, connB, `{"jsonrpc":"2.0","method":"answer","params":{"targetId":"`+idA+`","answer":{"type":"answer","sdp":"v=0"}}}`)
	answer := read(t, connA)
	assert.Equal(t, "answer", answer.Method)
	assert.Equal(t, idB, answer.str(t, "sourceId"))

	assert.Equal(t, registry.Stats{Rooms: 1, Peers: 2}, server.Stats())

	connB.Close()
	left := read(t, connA)
	assert.Equal(t, "peer-left", left.Method)
	assert.Equal(t, idB, left.str(t, "peerId"))
}

func TestSignalToAbsentPeerIsSilent(t *testing.T) {
	_, ts := newTestServer(t)

	conn, _ := dial(t, ts)
	send(t, conn, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	read(t, conn)

	send(t, conn, `{"jsonrpc":"2.0","method":"offer","params":{"targetId":"nobody","offer":{}}}`)
	send(t, conn, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)

	// the next message is the reply to the second join, nothing for the offer
	msg := read(t, conn)
	assert.Equal(t, "room-peers", msg.Method)
}

func TestProtocolErrorKeepsSocketOpen(t *testing.T) {
	_, ts := newTestServer(t)

	conn, _ := dial(t, ts)

	send(t, conn, `{"jsonrpc":"2.0","method":"dance"}`)
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Method)
	assert.Contains(t, msg.str(t, "message"), "unknown RPC type")

	send(t, conn, `not json`)
	msg = read(t, conn)
	assert.Equal(t, "error", msg.Method)

	send(t, conn, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	msg = read(t, conn)
	assert.Equal(t, "room-peers", msg.Method)
}

func TestRejoinSameRoomDoesNotBroadcast(t *testing.T) {
	_, ts := newTestServer(t)

	connA, _ := dial(t, ts)
	connB, idB := dial(t, ts)

	send(t, connA, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	read(t, connA)
	send(t, connB, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	read(t, connB)
	assert.Equal(t, "peer-joined", read(t, connA).Method)

	send(t, connB, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	assert.Equal(t, "room-peers", read(t, connB).Method)

	// A sees the leave, not a second join
	send(t, connB, `{"jsonrpc":"2.0","method":"leave"}`)
	left := read(t, connA)
	assert.Equal(t, "peer-left", left.Method)
	assert.Equal(t, idB, left.str(t, "peerId"))
}

func TestSwitchRoomNotifiesOldRoom(t *testing.T) {
	_, ts := newTestServer(t)

	connA, _ := dial(t, ts)
	connB, idB := dial(t, ts)

	send(t, connA, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	read(t, connA)
	send(t, connB, `{"jsonrpc":"2.0","method":"join","params":"r1"}`)
	read(t, connB)
	read(t, connA)

	send(t, connB, `{"jsonrpc":"2.0","method":"join","params":"r2"}`)
	peers := read(t, connB)
	assert.Equal(t, "room-peers", peers.Method)
	assert.JSONEq(t, `[]`, string(peers.Params["peers"]))

	left := read(t, connA)
	assert.Equal(t, "peer-left", left.Method)
	assert.Equal(t, idB, left.str(t, "peerId"))
}
