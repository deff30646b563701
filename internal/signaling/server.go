package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/eventbus"
	"github.com/isqad/robosignal/internal/eventbus/rpc"
	"github.com/isqad/robosignal/internal/registry"
	"github.com/isqad/robosignal/internal/telemetry"
)

const (
	wsPeerIDSessionKey       = "peerId"
	wsSubscriptionSessionKey = "subscription"

	DefaultMaxMessageSize int64 = 200 * 1024
)

var errNoSessionKey = errors.New("no key for given session")

// Bus is what the server needs from the eventbus: the inbox of every
// connection is a client subscription.
type Bus interface {
	eventbus.Publisher
	eventbus.Subscriber
}

type ServerOptions struct {
	MaxMessageSize int64
}

// Server binds websocket connections to peers: it registers them, routes
// their rpcs and pumps their inbox back to the socket.
type Server struct {
	registry  *registry.Registry
	bus       Bus
	relay     *Relay
	router    *eventbus.Router
	websocket *melody.Melody
}

func NewServer(reg *registry.Registry, bus Bus, relay *Relay, options ServerOptions) *Server {
	if options.MaxMessageSize <= 0 {
		options.MaxMessageSize = DefaultMaxMessageSize
	}

	s := &Server{
		registry:  reg,
		bus:       bus,
		relay:     relay,
		router:    eventbus.NewRouter(),
		websocket: melody.New(),
	}
	s.websocket.Config.MaxMessageSize = options.MaxMessageSize
	// the relay is meant for browsers served from other origins
	s.websocket.Upgrader.CheckOrigin = func(r *http.Request) bool { return true }

	s.router.OnJoin(s.join)
	s.router.OnLeave(s.leaveRoom)
	s.router.OnSignal(s.signal)

	s.websocket.HandleConnect(s.handleConnect)
	s.websocket.HandleDisconnect(s.handleDisconnect)
	s.websocket.HandleMessage(s.handleMessage)
	s.websocket.HandleError(func(session *melody.Session, err error) {
		log.Error().Err(err).Str("service", "signaling").Msg("error in websocket session")
	})

	return s
}

// Handler upgrades the request and serves the connection until it closes
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := core.NewPeerID()

		subscription, err := s.bus.SubscribeClient(peerID)
		if err != nil {
			log.Error().Err(err).Str("service", "signaling").Msg("can't create the peer inbox")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		defer subscription.Close()

		sessKeys := make(map[string]interface{})
		sessKeys[wsPeerIDSessionKey] = peerID
		sessKeys[wsSubscriptionSessionKey] = subscription

		if err := s.websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "signaling").Msg("can't handle request")
		}
	}
}

// Close disconnects every websocket session
func (s *Server) Close() error {
	return s.websocket.Close()
}

func (s *Server) Stats() registry.Stats {
	return s.registry.Stats()
}

func (s *Server) handleConnect(session *melody.Session) {
	peerID, subscription, err := sessionPeer(session)
	if err != nil {
		log.Error().Err(err).Str("service", "signaling").Msg("extract peer from session")
		session.Close()
		return
	}

	if err := s.registry.Register(peerID); err != nil {
		log.Error().Err(err).Str("service", "signaling").Str("peerId", string(peerID)).Msg("register peer")
		session.Close()
		return
	}
	s.updateDirectoryMetrics()

	go pump(session, peerID, subscription)

	s.publish(peerID, rpc.NewConnectedRpc(peerID))
	log.Info().Str("service", "signaling").Str("peerId", string(peerID)).Msg("peer connected")
}

func (s *Server) handleDisconnect(session *melody.Session) {
	peerID, subscription, err := sessionPeer(session)
	if err != nil {
		log.Error().Err(err).Str("service", "signaling").Msg("extract peer from session")
		return
	}

	if err := s.leave(peerID); err != nil {
		log.Error().Err(err).Str("service", "signaling").Str("peerId", string(peerID)).Msg("leave on disconnect")
	}
	subscription.Close()

	log.Info().Str("service", "signaling").Str("peerId", string(peerID)).Msg("peer disconnected")
}

func (s *Server) handleMessage(session *melody.Session, msg []byte) {
	peerID, _, err := sessionPeer(session)
	if err != nil {
		log.Error().Err(err).Str("service", "signaling").Msg("extract peer from session")
		return
	}

	if err := s.router.Route(peerID, msg); err != nil {
		log.Warn().Err(err).Str("service", "signaling").Str("peerId", string(peerID)).Msg("can't handle rpc")
		s.publish(peerID, rpc.NewErrorRpc(err.Error()))
	}
}

func (s *Server) join(peerID core.PeerID, roomID core.RoomID) error {
	result, err := s.registry.Join(peerID, roomID)
	if err != nil {
		return err
	}
	defer s.updateDirectoryMetrics()

	if result.Left != nil {
		s.broadcastLeft(*result.Left)
	}

	s.publish(peerID, rpc.NewRoomPeersRpc(result.Others))

	if result.Rejoined {
		return nil
	}
	for _, other := range result.Others {
		s.publish(other, rpc.NewPeerJoinedRpc(peerID))
	}

	log.Info().Str("service", "signaling").Str("peerId", string(peerID)).Str("roomId", string(roomID)).Msg("peer joined")

	return nil
}

// leaveRoom handles the explicit leave rpc: the connection stays open and
// gets a fresh registry entry without a room
func (s *Server) leaveRoom(peerID core.PeerID) error {
	if err := s.leave(peerID); err != nil {
		return err
	}

	return s.registry.Register(peerID)
}

func (s *Server) leave(peerID core.PeerID) error {
	departure, ok := s.registry.Leave(peerID)
	if !ok {
		return nil
	}
	defer s.updateDirectoryMetrics()

	s.broadcastLeft(departure)

	return nil
}

func (s *Server) signal(peerID core.PeerID, r *rpc.SignalRpc) error {
	err := s.relay.Forward(context.Background(), Signal{
		Kind:    r.GetMethod(),
		Source:  peerID,
		Target:  r.Params.TargetID,
		Payload: r.Params.Payload,
	})
	if errors.Is(err, ErrDropped) {
		return nil
	}

	return err
}

func (s *Server) broadcastLeft(d registry.Departure) {
	for _, other := range d.Remaining {
		s.publish(other, rpc.NewPeerLeftRpc(d.PeerID))
	}
}

// publish never fails the caller: a peer that went away in between simply
// misses the message
func (s *Server) publish(peerID core.PeerID, r rpc.Rpc) {
	if err := s.bus.PublishClient(peerID, r); err != nil {
		log.Warn().Err(err).Str("service", "signaling").
			Str("peerId", string(peerID)).
			Str("rpcMethod", string(r.GetMethod())).
			Msg("can't publish rpc")
	}
}

func (s *Server) updateDirectoryMetrics() {
	stats := s.registry.Stats()
	telemetry.SetDirectorySize(stats.Peers, stats.Rooms)
}

// pump writes the inbox of the peer to its socket until the inbox is closed
func pump(session *melody.Session, peerID core.PeerID, subscription *eventbus.Subscription) {
	for msg := range subscription.Channel() {
		if err := session.Write(msg); err != nil {
			// there's only session closed error can be
			log.Debug().Err(err).Str("service", "signaling").Str("peerId", string(peerID)).Msg("write to socket")
			telemetry.ServiceOperationCounter.WithLabelValues("ws_write", "error", "session_closed").Inc()
			continue
		}
	}
}

func sessionPeer(session *melody.Session) (core.PeerID, *eventbus.Subscription, error) {
	rawID, ok := session.Keys[wsPeerIDSessionKey]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", errNoSessionKey, wsPeerIDSessionKey)
	}
	peerID, ok := rawID.(core.PeerID)
	if !ok {
		return "", nil, fmt.Errorf("can't convert peer id: %+v", rawID)
	}

	rawSub, ok := session.Keys[wsSubscriptionSessionKey]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", errNoSessionKey, wsSubscriptionSessionKey)
	}
	subscription, ok := rawSub.(*eventbus.Subscription)
	if !ok {
		return "", nil, fmt.Errorf("can't convert subscription: %+v", rawSub)
	}

	return peerID, subscription, nil
}
