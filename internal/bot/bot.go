// Package bot is a probe peer for the signaling relay: it joins a room,
// negotiates data channels with the other peers and logs what it sees.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/eventbus/rpc"
)

const dataChannelLabel = "probe"

var errNoPeer = errors.New("no negotiation with the peer")

type Options struct {
	// URL of the signaling websocket, e.g. ws://localhost:8080/ws
	URL  string
	Room core.RoomID
	// Offer makes the bot call every peer already in the room
	Offer bool
	// Greeting is sent over every data channel once it opens
	Greeting   string
	ICEServers []string

	// OnEvent observes every rpc received from the server
	OnEvent func(rpc.Rpc)
	// OnData observes every data channel message
	OnData func(from core.PeerID, data []byte)
}

type remotePeer struct {
	pc                *webrtc.PeerConnection
	pendingCandidates []webrtc.ICECandidateInit
}

type Bot struct {
	Options

	conn      *websocket.Conn
	writeLock sync.Mutex

	lock   sync.Mutex
	peerID core.PeerID
	peers  map[core.PeerID]*remotePeer
	// candidates trickled ahead of the offer they belong to
	early map[core.PeerID][]webrtc.ICECandidateInit
}

func New(options Options) *Bot {
	return &Bot{
		Options: options,
		peers:   make(map[core.PeerID]*remotePeer),
		early:   make(map[core.PeerID][]webrtc.ICECandidateInit),
	}
}

// ID returns the peer id assigned by the server, empty until connected
func (bot *Bot) ID() core.PeerID {
	bot.lock.Lock()
	defer bot.lock.Unlock()

	return bot.peerID
}

// Run dials the server and handles events until ctx is done or the
// connection drops
func (bot *Bot) Run(ctx context.Context) error {
	dialer := &websocket.Dialer{HandshakeTimeout: 45 * time.Second}

	c, resp, err := dialer.DialContext(ctx, bot.URL, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	bot.conn = c
	defer bot.Close()

	done := make(chan error, 1)
	go func() {
		for {
			if err := bot.readRPC(); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Info().Str("service", "bot").Msg("interrupt")

		// Cleanly close the connection by sending a close message and then
		// waiting (with timeout) for the server to close the connection.
		bot.writeLock.Lock()
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		bot.writeLock.Unlock()
		if err != nil {
			return err
		}

		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
}

func (bot *Bot) Close() {
	bot.lock.Lock()
	peers := bot.peers
	bot.peers = make(map[core.PeerID]*remotePeer)
	bot.lock.Unlock()

	for _, p := range peers {
		_ = p.pc.Close()
	}

	if bot.conn != nil {
		bot.conn.Close()
	}
}

func (bot *Bot) readRPC() error {
	_, message, err := bot.conn.ReadMessage()
	if err != nil {
		return err
	}

	p, err := rpc.EventFromReader(bytes.NewReader(message))
	if err != nil {
		log.Warn().Err(err).Str("service", "bot").Msg("unparsed rpc")
		return nil
	}

	if bot.OnEvent != nil {
		bot.OnEvent(p)
	}

	if err := bot.handle(p); err != nil {
		log.Error().Err(err).Str("service", "bot").Str("method", string(p.GetMethod())).Msg("handle rpc")
	}

	return nil
}

func (bot *Bot) handle(p rpc.Rpc) error {
	switch msg := p.(type) {
	case *rpc.PeerEventRpc:
		switch msg.GetMethod() {
		case rpc.ConnectedMethod:
			bot.lock.Lock()
			bot.peerID = msg.Params.PeerID
			bot.lock.Unlock()

			log.Info().Str("service", "bot").Str("peerId", string(msg.Params.PeerID)).Str("room", string(bot.Room)).Msg("connected, joining")
			return bot.send(rpc.NewJoinRpc(bot.Room))
		case rpc.PeerJoinedMethod:
			log.Info().Str("service", "bot").Str("peerId", string(msg.Params.PeerID)).Msg("peer joined")
		case rpc.PeerLeftMethod:
			log.Info().Str("service", "bot").Str("peerId", string(msg.Params.PeerID)).Msg("peer left")
			bot.closePeer(msg.Params.PeerID)
		}
	case *rpc.RoomPeersRpc:
		log.Info().Str("service", "bot").Int("count", len(msg.Params.Peers)).Msg("room peers")
		if !bot.Offer {
			return nil
		}
		for _, peerID := range msg.Params.Peers {
			if err := bot.call(peerID); err != nil {
				log.Error().Err(err).Str("service", "bot").Str("peerId", string(peerID)).Msg("call peer")
			}
		}
	case *rpc.SignalRpc:
		return bot.handleSignal(msg)
	case *rpc.ErrorRpc:
		log.Warn().Str("service", "bot").Str("message", msg.Params.Message).Msg("server error")
	}

	return nil
}

func (bot *Bot) handleSignal(msg *rpc.SignalRpc) error {
	source := msg.Params.SourceID

	switch msg.GetMethod() {
	case rpc.OfferMethod:
		offer := webrtc.SessionDescription{}
		if err := json.Unmarshal(msg.Params.Payload, &offer); err != nil {
			return err
		}
		return bot.answer(source, offer)
	case rpc.AnswerMethod:
		answer := webrtc.SessionDescription{}
		if err := json.Unmarshal(msg.Params.Payload, &answer); err != nil {
			return err
		}
		return bot.setRemoteDescription(source, answer)
	case rpc.ICECandidateMethod:
		candidate := webrtc.ICECandidateInit{}
		if err := json.Unmarshal(msg.Params.Payload, &candidate); err != nil {
			return err
		}
		return bot.addICECandidate(source, candidate)
	case rpc.MessageMethod:
		log.Info().Str("service", "bot").Str("from", string(source)).RawJSON("message", msg.Params.Payload).Msg("message")
	}

	return nil
}

func (bot *Bot) newPeer(peerID core.PeerID) (*remotePeer, error) {
	conf := webrtc.Configuration{}
	if len(bot.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: bot.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// All candidates are gathered
			return
		}
		if err := bot.sendSignal(rpc.ICECandidateMethod, peerID, candidate.ToJSON()); err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("send ICE candidate")
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("service", "bot").Str("peerId", string(peerID)).Str("state", s.String()).Msg("peer connection state has changed")
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		bot.bindDataChannel(peerID, dc)
	})

	bot.lock.Lock()
	p := &remotePeer{pc: pc, pendingCandidates: bot.early[peerID]}
	delete(bot.early, peerID)
	if old, ok := bot.peers[peerID]; ok {
		_ = old.pc.Close()
	}
	bot.peers[peerID] = p
	bot.lock.Unlock()

	return p, nil
}

func (bot *Bot) call(peerID core.PeerID) error {
	p, err := bot.newPeer(peerID)
	if err != nil {
		return err
	}

	dc, err := p.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return err
	}
	bot.bindDataChannel(peerID, dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	return bot.sendSignal(rpc.OfferMethod, peerID, offer)
}

func (bot *Bot) answer(peerID core.PeerID, offer webrtc.SessionDescription) error {
	if _, err := bot.newPeer(peerID); err != nil {
		return err
	}
	if err := bot.setRemoteDescription(peerID, offer); err != nil {
		return err
	}

	p, ok := bot.peer(peerID)
	if !ok {
		return errNoPeer
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	return bot.sendSignal(rpc.AnswerMethod, peerID, answer)
}

func (bot *Bot) bindDataChannel(peerID core.PeerID, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		log.Info().Str("service", "bot").Str("peerId", string(peerID)).Str("label", dc.Label()).Msg("data channel opened")
		if bot.Greeting == "" {
			return
		}
		if err := dc.SendText(bot.Greeting); err != nil {
			log.Error().Err(err).Str("service", "bot").Msg("send greeting")
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		log.Info().Str("service", "bot").Str("peerId", string(peerID)).Bytes("data", msg.Data).Msg("data channel message")
		if bot.OnData != nil {
			bot.OnData(peerID, msg.Data)
		}
	})
}

func (bot *Bot) peer(peerID core.PeerID) (*remotePeer, bool) {
	bot.lock.Lock()
	defer bot.lock.Unlock()

	p, ok := bot.peers[peerID]
	return p, ok
}

func (bot *Bot) closePeer(peerID core.PeerID) {
	bot.lock.Lock()
	p, ok := bot.peers[peerID]
	delete(bot.peers, peerID)
	delete(bot.early, peerID)
	bot.lock.Unlock()

	if ok {
		_ = p.pc.Close()
	}
}

func (bot *Bot) addICECandidate(peerID core.PeerID, candidate webrtc.ICECandidateInit) error {
	bot.lock.Lock()
	defer bot.lock.Unlock()

	p, ok := bot.peers[peerID]
	if !ok {
		bot.early[peerID] = append(bot.early[peerID], candidate)
		return nil
	}

	if p.pc.RemoteDescription() != nil {
		return p.pc.AddICECandidate(candidate)
	}

	p.pendingCandidates = append(p.pendingCandidates, candidate)

	return nil
}

func (bot *Bot) setRemoteDescription(peerID core.PeerID, sdp webrtc.SessionDescription) error {
	bot.lock.Lock()
	defer bot.lock.Unlock()

	p, ok := bot.peers[peerID]
	if !ok {
		return errNoPeer
	}

	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	for _, candidate := range p.pendingCandidates {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			return err
		}
	}
	p.pendingCandidates = make([]webrtc.ICECandidateInit, 0)

	return nil
}

func (bot *Bot) sendSignal(method rpc.Method, target core.PeerID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return bot.send(rpc.NewSignalRpc(method, target, raw))
}

func (bot *Bot) send(r rpc.Rpc) error {
	p, err := r.ToJSON()
	if err != nil {
		return err
	}

	bot.writeLock.Lock()
	defer bot.writeLock.Unlock()

	return bot.conn.WriteMessage(websocket.TextMessage, p)
}
