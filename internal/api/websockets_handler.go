package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/admission"
	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/protocol"
	"github.com/isqad/robosignal/internal/telemetry"
)

const (
	wsConnectionIDSessionKey = "connectionId"
	wsChannelSessionKey      = "channel"
)

// ChannelHandler upgrades to a websocket that carries the data channel
// protocol of the live session. Nothing is upgraded while the slot is idle.
func ChannelHandler(controller SessionController, websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connID, ok, err := controller.Current(r.Context())
		if err != nil {
			log.Error().Err(err).Str("service", "channel").Msg("can't read the session slot")
			telemetry.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if !ok {
			telemetry.WriteJSON(w, http.StatusConflict, errorResponse{Error: "no active session"})
			return
		}

		sessKeys := make(map[string]interface{})
		sessKeys[wsConnectionIDSessionKey] = connID

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "channel").Msg("can't handle request")
		}
	}
}

func ChannelConnectHandler(channels *protocol.Handler) func(session *melody.Session) {
	return func(session *melody.Session) {
		connID, err := getConnectionID(session)
		if err != nil {
			log.Error().Err(err).Str("service", "channel").Msg("extract connection id")
			closeWsSession(session)
			return
		}

		session.Keys[wsChannelSessionKey] = channels.NewChannel(&sessionConn{session: session}, connID)
		log.Info().Str("service", "channel").Str("connectionId", string(connID)).Msg("channel opened")
	}
}

func ChannelMessageHandler(controller SessionController) func(session *melody.Session, msg []byte) {
	return func(session *melody.Session, msg []byte) {
		channel, err := getChannel(session)
		if err != nil {
			log.Error().Err(err).Str("service", "channel").Msg("extract channel")
			closeWsSession(session)
			return
		}

		ctx := context.Background()
		channel.HandleMessage(ctx, msg)

		// only the admitted client keeps the lease alive
		if !channel.Validated() {
			return
		}
		if err := controller.Touch(ctx, channel.ConnectionID()); err != nil {
			log.Debug().Err(err).Str("service", "channel").Str("connectionId", string(channel.ConnectionID())).Msg("touch session")
		}
	}
}

// ChannelDisconnectHandler releases the slot when a validated channel goes
// away. An unvalidated socket can't evict the admitted client.
func ChannelDisconnectHandler(controller SessionController) func(session *melody.Session) {
	return func(session *melody.Session) {
		channel, err := getChannel(session)
		if err != nil {
			return
		}

		connID := channel.ConnectionID()
		if !channel.Validated() {
			log.Info().Str("service", "channel").Str("connectionId", string(connID)).Msg("unvalidated channel closed")
			return
		}

		if err := controller.Release(context.Background(), connID, admission.ReasonDisconnect); err != nil {
			log.Error().Err(err).Str("service", "channel").Str("connectionId", string(connID)).Msg("release session")
		}
	}
}

// sessionConn adapts a melody session to protocol.Conn
type sessionConn struct {
	session *melody.Session
}

func (c *sessionConn) Send(msg []byte) error {
	return c.session.Write(msg)
}

func (c *sessionConn) Close() error {
	return c.session.Close()
}

func getConnectionID(s *melody.Session) (core.ConnectionID, error) {
	value, ok := s.Keys[wsConnectionIDSessionKey]
	if !ok {
		return "", fmt.Errorf("no connection id for given session: %+v", s)
	}
	connID, ok := value.(core.ConnectionID)
	if !ok {
		return "", fmt.Errorf("can't convert connection id: %+v", value)
	}
	return connID, nil
}

func getChannel(s *melody.Session) (*protocol.Channel, error) {
	value, ok := s.Keys[wsChannelSessionKey]
	if !ok {
		return nil, fmt.Errorf("no channel for given session: %+v", s)
	}
	channel, ok := value.(*protocol.Channel)
	if !ok {
		return nil, fmt.Errorf("can't convert channel: %+v", value)
	}
	return channel, nil
}

func closeWsSession(session *melody.Session) {
	if err := session.Close(); err != nil {
		log.Error().Err(err).Str("service", "channel").Msg("close websocket session")
	}
}
