// Package signaling relays WebRTC negotiation messages between peers that
// discovered each other through a room.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/eventbus"
	"github.com/isqad/robosignal/internal/eventbus/rpc"
	"github.com/isqad/robosignal/internal/registry"
	"github.com/isqad/robosignal/internal/telemetry"
)

var (
	// ErrDropped is returned when a signal could not be delivered. It is
	// never reported back to the sender.
	ErrDropped     = errors.New("signal dropped")
	ErrUnknownKind = errors.New("unknown signal kind")
)

// Signal is a negotiation message from Source to Target. Payload is relayed
// verbatim.
type Signal struct {
	Kind    rpc.Method
	Source  core.PeerID
	Target  core.PeerID
	Payload json.RawMessage
}

type RelayOptions struct {
	// EnforceSameRoom drops signals addressed to a peer outside the room
	// of the sender
	EnforceSameRoom bool
}

type Relay struct {
	RelayOptions

	registry  *registry.Registry
	publisher eventbus.Publisher
}

func NewRelay(reg *registry.Registry, publisher eventbus.Publisher, options RelayOptions) *Relay {
	return &Relay{
		RelayOptions: options,
		registry:     reg,
		publisher:    publisher,
	}
}

// Forward records offers and candidates for the sender and delivers the
// signal to the target inbox.
func (r *Relay) Forward(ctx context.Context, s Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Kind.IsSignal() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, s.Kind)
	}

	err := r.forward(s)

	status := "delivered"
	switch {
	case errors.Is(err, eventbus.ErrInboxFull):
		// the target is connected but does not drain its socket
		status = "inbox_full"
		log.Warn().Err(err).Str("service", "relay").
			Str("kind", string(s.Kind)).
			Str("sourceId", string(s.Source)).
			Str("targetId", string(s.Target)).
			Msg("signal lost, target inbox is full")
	case err != nil:
		status = "dropped"
		log.Debug().Err(err).Str("service", "relay").
			Str("kind", string(s.Kind)).
			Str("sourceId", string(s.Source)).
			Str("targetId", string(s.Target)).
			Msg("signal not delivered")
	}
	telemetry.SignalCounter.WithLabelValues(string(s.Kind), status).Inc()

	return err
}

func (r *Relay) forward(s Signal) error {
	sourceRoom, err := r.registry.RoomOf(s.Source)
	if err != nil {
		return fmt.Errorf("%w: source %v", ErrDropped, err)
	}

	if r.EnforceSameRoom {
		targetRoom, err := r.registry.RoomOf(s.Target)
		if err != nil {
			return fmt.Errorf("%w: target %v", ErrDropped, err)
		}
		if sourceRoom == "" || sourceRoom != targetRoom {
			return fmt.Errorf("%w: target is not in room %q", ErrDropped, sourceRoom)
		}
	}

	switch s.Kind {
	case rpc.OfferMethod:
		err = r.registry.RecordOffer(s.Source, s.Target, s.Payload)
	case rpc.ICECandidateMethod:
		err = r.registry.RecordCandidate(s.Source, s.Target, s.Payload)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDropped, err)
	}

	if err := r.publisher.PublishClient(s.Target, rpc.NewRelayedSignalRpc(s.Kind, s.Source, s.Payload)); err != nil {
		return fmt.Errorf("%w: %w", ErrDropped, err)
	}

	return nil
}
