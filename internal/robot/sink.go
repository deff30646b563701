// Package robot delivers data-channel commands to the robot hardware bridge
package robot

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/protocol"
)

const DefaultCommandsSubject = "robot.commands"

var ErrSinkClosed = errors.New("command sink is closed")

// NatsSink publishes every command as JSON on a NATS subject. The hardware
// bridge subscribes to it.
type NatsSink struct {
	nc      *nats.Conn
	subject string
}

func NewNatsSink(natsAddr, subject string) (*NatsSink, error) {
	nc, err := nats.Connect(natsAddr, nats.NoEcho(), nats.Name("robosignal"))
	if err != nil {
		return nil, err
	}

	if subject == "" {
		subject = DefaultCommandsSubject
	}

	return &NatsSink{nc: nc, subject: subject}, nil
}

func (s *NatsSink) Send(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.nc.IsClosed() {
		return ErrSinkClosed
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	log.Debug().Str("service", "robot").Str("subject", s.subject).RawJSON("command", payload).Msg("publish command")

	return s.nc.Publish(s.subject, payload)
}

// Close flushes pending commands and closes the connection
func (s *NatsSink) Close() error {
	return s.nc.Drain()
}

// LogSink only logs commands, for running without a bridge
type LogSink struct{}

func (LogSink) Send(ctx context.Context, cmd protocol.Command) error {
	log.Info().Str("service", "robot").Int("apiId", cmd.APIID).Interface("parameter", cmd.Parameter).Msg("robot command")
	return nil
}
