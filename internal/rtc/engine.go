// Package rtc answers robot offers with real pion peer connections and
// drives their data channels with the robot protocol.
package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/admission"
	"github.com/isqad/robosignal/internal/config"
	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/protocol"
	"github.com/isqad/robosignal/internal/telemetry"
)

var ErrUnknownSession = errors.New("unknown rtc session")

// SessionKeeper is notified about data channel activity and peer
// connection failures. admission.Controller implements it.
type SessionKeeper interface {
	Touch(ctx context.Context, connID core.ConnectionID) error
	Release(ctx context.Context, connID core.ConnectionID, reason string) error
}

// Engine keeps one PCTransport per admitted session
type Engine struct {
	api  *webrtc.API
	conf *config.WebRTCConfig

	lock       sync.Mutex
	transports map[core.ConnectionID]*PCTransport
	keeper     SessionKeeper
	channels   *protocol.Handler
}

var _ admission.Engine = (*Engine)(nil)

func NewEngine(conf *config.WebRTCConfig) (*Engine, error) {
	api, err := newAPI(conf)
	if err != nil {
		return nil, err
	}

	return &Engine{
		api:        api,
		conf:       conf,
		transports: make(map[core.ConnectionID]*PCTransport),
	}, nil
}

// Bind must be called before the first offer. The controller itself needs
// the engine, so the two are wired after construction.
func (e *Engine) Bind(keeper SessionKeeper, channels *protocol.Handler) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.keeper = keeper
	e.channels = channels
}

func (e *Engine) Answer(ctx context.Context, connID core.ConnectionID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	t, err := NewPCTransport(e.api, e.conf, connID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.handleStateChange(connID, state)
	})
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		e.onDataChannel(connID, dc)
	})

	e.lock.Lock()
	e.transports[connID] = t
	e.lock.Unlock()

	if err := t.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := t.Answer(ctx)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	log.Debug().Str("service", "rtc").Str("connectionId", string(connID)).Msg("answer created")

	return answer, nil
}

func (e *Engine) AddICECandidate(ctx context.Context, connID core.ConnectionID, candidate webrtc.ICECandidateInit) error {
	t, ok := e.transport(connID)
	if !ok {
		return ErrUnknownSession
	}

	return t.AddICECandidate(candidate)
}

// Close tears the peer connection down. Unknown sessions are ignored.
func (e *Engine) Close(connID core.ConnectionID) error {
	e.lock.Lock()
	t, ok := e.transports[connID]
	delete(e.transports, connID)
	e.lock.Unlock()

	if ok {
		t.Close()
	}

	return nil
}

func (e *Engine) transport(connID core.ConnectionID) (*PCTransport, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	t, ok := e.transports[connID]
	return t, ok
}

func (e *Engine) bound() (SessionKeeper, *protocol.Handler) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.keeper, e.channels
}

func (e *Engine) handleStateChange(connID core.ConnectionID, state webrtc.PeerConnectionState) {
	log.Debug().Str("service", "rtc").Str("connectionId", string(connID)).Str("state", state.String()).Msg("connection state changed")

	var reason string
	switch state {
	case webrtc.PeerConnectionStateConnected:
		telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "success", "").Inc()
		return
	case webrtc.PeerConnectionStateFailed:
		telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "error", "state_failed").Inc()
		reason = admission.ReasonFailed
	case webrtc.PeerConnectionStateClosed:
		reason = admission.ReasonClosed
	default:
		return
	}

	keeper, _ := e.bound()
	if keeper == nil {
		return
	}
	if err := keeper.Release(context.Background(), connID, reason); err != nil {
		log.Error().Err(err).Str("service", "rtc").Str("connectionId", string(connID)).Msg("release session")
	}
}

func (e *Engine) onDataChannel(connID core.ConnectionID, dc *webrtc.DataChannel) {
	keeper, channels := e.bound()
	if channels == nil {
		log.Error().Str("service", "rtc").Str("connectionId", string(connID)).Msg("engine is not bound, data channel dropped")
		_ = dc.Close()
		return
	}

	log.Info().Str("service", "rtc").Str("connectionId", string(connID)).Str("label", dc.Label()).Msg("data channel opened")

	channel := channels.NewChannel(&dataChannelConn{dc: dc}, connID)

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ctx := context.Background()
		channel.HandleMessage(ctx, msg.Data)

		if keeper == nil || !channel.Validated() {
			return
		}
		if err := keeper.Touch(ctx, connID); err != nil {
			log.Debug().Err(err).Str("service", "rtc").Str("connectionId", string(connID)).Msg("touch session")
		}
	})

	dc.OnClose(func() {
		if keeper == nil || !channel.Validated() {
			return
		}
		// the close may come from Engine.Close while the controller holds its lock
		go func() {
			if err := keeper.Release(context.Background(), connID, admission.ReasonDisconnect); err != nil {
				log.Error().Err(err).Str("service", "rtc").Str("connectionId", string(connID)).Msg("release session")
			}
		}()
	})
}

// dataChannelConn adapts a pion data channel to protocol.Conn
type dataChannelConn struct {
	dc *webrtc.DataChannel
}

func (c *dataChannelConn) Send(msg []byte) error {
	return c.dc.SendText(string(msg))
}

func (c *dataChannelConn) Close() error {
	return c.dc.Close()
}
