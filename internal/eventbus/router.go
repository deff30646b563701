package eventbus

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/eventbus/rpc"
)

var (
	errConvertJoin     = errors.New("can't convert to join")
	errConvertSignal   = errors.New("can't convert to signal")
	errUndefinedMethod = errors.New("undefined method")
	errNoCallback      = errors.New("no callback registered")
)

// Router dispatches the rpcs a client sends over its socket to the
// registered callbacks. Route runs on the reading goroutine of the
// connection, so calls for one peer never overlap.
type Router struct {
	onJoin   func(core.PeerID, core.RoomID) error
	onLeave  func(core.PeerID) error
	onSignal func(core.PeerID, *rpc.SignalRpc) error
}

func NewRouter() *Router {
	return &Router{}
}

// Route parses payload and calls the matching callback. Parse errors wrap
// rpc.ErrMalformedRpc or rpc.ErrUnknownRpcType.
func (router *Router) Route(peerID core.PeerID, payload []byte) error {
	r, err := rpc.RpcFromReader(bytes.NewReader(payload))
	if err != nil {
		return err
	}

	log.Debug().Str("service", "router").Str("peerId", string(peerID)).Str("rpcMethod", string(r.GetMethod())).Msg("route")

	switch r.GetMethod() {
	case rpc.JoinMethod:
		msg, ok := r.(*rpc.JoinRpc)
		if !ok {
			return errConvertJoin
		}
		if router.onJoin == nil {
			return fmt.Errorf("%w: %s", errNoCallback, rpc.JoinMethod)
		}

		return router.onJoin(peerID, msg.Params.RoomID)
	case rpc.LeaveMethod:
		if router.onLeave == nil {
			return fmt.Errorf("%w: %s", errNoCallback, rpc.LeaveMethod)
		}

		return router.onLeave(peerID)
	case rpc.OfferMethod, rpc.AnswerMethod, rpc.ICECandidateMethod, rpc.MessageMethod:
		msg, ok := r.(*rpc.SignalRpc)
		if !ok {
			return errConvertSignal
		}
		if router.onSignal == nil {
			return fmt.Errorf("%w: %s", errNoCallback, r.GetMethod())
		}

		return router.onSignal(peerID, msg)
	default:
		return fmt.Errorf("%w: %s", errUndefinedMethod, r.GetMethod())
	}
}

func (router *Router) OnJoin(callback func(core.PeerID, core.RoomID) error) {
	router.onJoin = callback
}

func (router *Router) OnLeave(callback func(core.PeerID) error) {
	router.onLeave = callback
}

func (router *Router) OnSignal(callback func(core.PeerID, *rpc.SignalRpc) error) {
	router.onSignal = callback
}
