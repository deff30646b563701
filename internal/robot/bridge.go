package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/protocol"
)

// DefaultBridgeQueue lets several bridges share the commands subject, each
// command reaching only one of them
const DefaultBridgeQueue = "robot-bridge"

// Bridge is the hardware side of NatsSink: it consumes published commands
// and hands them to the driver
type Bridge struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	driver  protocol.CommandSink

	errors chan error
}

func NewBridge(natsAddr, subject string, driver protocol.CommandSink) (*Bridge, error) {
	nc, err := nats.Connect(natsAddr, nats.NoEcho(), nats.Name("robosignal-bridge"))
	if err != nil {
		return nil, err
	}

	if subject == "" {
		subject = DefaultCommandsSubject
	}

	return &Bridge{
		nc:      nc,
		subject: subject,
		driver:  driver,
		errors:  make(chan error, 16),
	}, nil
}

// Run consumes commands until ctx is done, then drains the connection
func (b *Bridge) Run(ctx context.Context) error {
	log.Info().Str("service", "bridge").Str("subject", b.subject).Msg("start command bridge")

	var err error
	b.sub, err = b.nc.QueueSubscribe(b.subject, DefaultBridgeQueue, func(msg *nats.Msg) {
		if err := b.deliver(ctx, msg); err != nil {
			select {
			case b.errors <- err:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	if err := b.nc.Flush(); err != nil {
		return err
	}

	for {
		select {
		case err := <-b.errors:
			log.Error().Err(err).Str("service", "bridge").Msg("")
		case <-ctx.Done():
			return b.stop()
		}
	}
}

func (b *Bridge) stop() error {
	log.Info().Str("service", "bridge").Msg("stop command bridge")

	if err := b.sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("service", "bridge").Msg("unsubscribe")
	}

	return b.nc.Drain()
}

func (b *Bridge) deliver(ctx context.Context, msg *nats.Msg) error {
	cmd := protocol.Command{}

	if err := json.NewDecoder(bytes.NewReader(msg.Data)).Decode(&cmd); err != nil {
		return fmt.Errorf("bad command: %w, payload: %s", err, string(msg.Data))
	}

	log.Debug().Str("service", "bridge").Int("apiId", cmd.APIID).Msg("received command")

	return b.driver.Send(ctx, cmd)
}
