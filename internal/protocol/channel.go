// Package protocol implements the JSON application protocol spoken over
// the data channel of an admitted robot session.
package protocol

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/telemetry"
)

// Conn is the transport under a channel: a pion data channel or a
// websocket emulating one.
type Conn interface {
	Send(msg []byte) error
	Close() error
}

// Validator checks a validation key against the live session
type Validator interface {
	Validate(ctx context.Context, key string) (core.ConnectionID, bool)
}

type Options struct {
	// RequireValidation rejects every message but validation until the
	// channel is validated
	RequireValidation bool
	Robot             RobotInfo
}

// Handler creates channels sharing the same validator, sink and options
type Handler struct {
	Options

	validator Validator
	sink      CommandSink
}

func NewHandler(validator Validator, sink CommandSink, options Options) *Handler {
	return &Handler{
		Options:   options,
		validator: validator,
		sink:      sink,
	}
}

// NewChannel binds the protocol to conn for the session connID
func (h *Handler) NewChannel(conn Conn, connID core.ConnectionID) *Channel {
	return &Channel{
		handler: h,
		conn:    conn,
		connID:  connID,
	}
}

// Channel holds the handshake state of one data channel. Messages are
// handled one at a time in arrival order.
type Channel struct {
	handler *Handler
	conn    Conn
	connID  core.ConnectionID

	lock      sync.Mutex
	validated bool
	closed    bool
}

func (c *Channel) Validated() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.validated
}

func (c *Channel) Closed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.closed
}

func (c *Channel) ConnectionID() core.ConnectionID {
	return c.connID
}

// HandleMessage dispatches one raw message and writes the response, if any
func (c *Channel) HandleMessage(ctx context.Context, raw []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return
	}

	msg := Message{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Str("service", "protocol").Str("connectionId", string(c.connID)).Msg("malformed message")
		c.reply(ErrType, errInvalidFormat)
		return
	}

	if msg.Type != ValidationType && !c.validated && c.handler.RequireValidation {
		c.reply(ErrType, errValidationRequire)
		return
	}

	switch msg.Type {
	case ValidationType:
		c.validate(ctx, msg)
	case VideoType:
		c.send(ctx, VideoCommand(msg.enabled()))
	case AudioType:
		c.send(ctx, AudioCommand(msg.enabled()))
	case InnerRequestType:
		c.innerRequest(ctx, msg.innerRequest())
	default:
		c.reply(ErrType, errUnsupportedType)
	}
}

func (c *Channel) validate(ctx context.Context, msg Message) {
	key, _ := msg.dataString()

	connID, ok := c.handler.validator.Validate(ctx, key)
	if ok && c.connID != "" && connID != c.connID {
		ok = false
	}

	if !ok {
		telemetry.ValidationCounter.WithLabelValues("mismatch").Inc()
		log.Warn().Str("service", "protocol").Str("connectionId", string(c.connID)).Msg("validation failed, closing channel")
		c.closed = true
		if err := c.conn.Close(); err != nil {
			log.Error().Err(err).Str("service", "protocol").Msg("close channel")
		}
		return
	}

	telemetry.ValidationCounter.WithLabelValues("ok").Inc()
	c.validated = true
	c.reply(ValidationType, validationOk)
}

func (c *Channel) innerRequest(ctx context.Context, req innerRequest) {
	switch req.ReqType {
	case GetRobotInfoRequest:
		info := c.handler.Robot
		if info.Capabilities == nil {
			info.Capabilities = []string{}
		}
		c.reply(ReportType, report{ReqType: req.ReqType, Info: &info})
	case DisableTrafficSavingRequest:
		c.send(ctx, TrafficSavingCommand(req.Instruction))
		c.reply(ReportType, report{ReqType: req.ReqType, Status: "ok"})
	default:
		c.reply(ErrType, errUnsupportedType)
	}
}

// send hands the command to the sink; failures stay on the server side
func (c *Channel) send(ctx context.Context, cmd Command) {
	if c.handler.sink == nil {
		return
	}

	if err := c.handler.sink.Send(ctx, cmd); err != nil {
		log.Error().Err(err).Str("service", "protocol").Int("apiId", cmd.APIID).Msg("can't send robot command")
		telemetry.ServiceOperationCounter.WithLabelValues("robot_command", "error", "sink").Inc()
		return
	}
	telemetry.ServiceOperationCounter.WithLabelValues("robot_command", "success", "").Inc()
}

func (c *Channel) reply(t MessageType, data interface{}) {
	msg, err := json.Marshal(response{Type: t, Data: data})
	if err != nil {
		log.Error().Err(err).Str("service", "protocol").Msg("marshal response")
		return
	}

	if err := c.conn.Send(msg); err != nil {
		log.Error().Err(err).Str("service", "protocol").Str("connectionId", string(c.connID)).Msg("write response")
	}
}
