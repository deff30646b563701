// Package admission gates the robot to a single active session. An offer is
// admitted only while the session slot is idle; the admitted client proves
// itself on the data channel with the validation key it got in the answer.
package admission

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/telemetry"
)

const (
	validationKeySize = 32

	DefaultIdleTimeout   = 60 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// Release reasons
const (
	ReasonDisconnect = "disconnect"
	ReasonClosed     = "closed"
	ReasonFailed     = "failed"
	ReasonExpired    = "expired"
	ReasonShutdown   = "shutdown"
)

var (
	ErrEngine    = errors.New("engine can't answer the offer")
	ErrNoSession = errors.New("no active session")
)

type Options struct {
	// IdleTimeout is the lease TTL, refreshed by every Touch
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Clock         core.Clock
}

// Controller is the Idle/Occupied state machine. Offers, releases and
// sweeps are serialized by one mutex.
type Controller struct {
	Options

	lock     sync.Mutex
	slot     SlotStore
	engine   Engine
	sessions SessionsStorer

	// sessions whose engine resources live on this node
	live map[core.ConnectionID]struct{}
}

func NewController(slot SlotStore, engine Engine, sessions SessionsStorer, options Options) *Controller {
	if options.IdleTimeout <= 0 {
		options.IdleTimeout = DefaultIdleTimeout
	}
	if options.SweepInterval <= 0 {
		options.SweepInterval = DefaultSweepInterval
	}
	if options.Clock == nil {
		options.Clock = core.SystemClock()
	}
	if sessions == nil {
		sessions = NopSessionsStorer{}
	}

	return &Controller{
		Options:  options,
		slot:     slot,
		engine:   engine,
		sessions: sessions,
		live:     make(map[core.ConnectionID]struct{}),
	}
}

// Offer admits the offer if the slot is idle. An occupied slot yields the
// reject answer with a nil error.
func (c *Controller) Offer(ctx context.Context, req OfferRequest) (Answer, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.sweepLocked(ctx)

	key, err := newValidationKey()
	if err != nil {
		telemetry.AdmissionCounter.WithLabelValues("error").Inc()
		return Answer{}, err
	}
	connID := core.NewConnectionID()

	ok, err := c.slot.Acquire(ctx, Lease{ConnectionID: connID, Key: key}, c.IdleTimeout)
	if err != nil {
		telemetry.AdmissionCounter.WithLabelValues("error").Inc()
		return Answer{}, fmt.Errorf("acquire slot: %w", err)
	}
	if !ok {
		telemetry.AdmissionCounter.WithLabelValues("rejected").Inc()
		log.Info().Str("service", "admission").Str("clientId", req.ID).Msg("slot is occupied, offer rejected")
		return RejectAnswer(), nil
	}

	answer, err := c.engine.Answer(ctx, connID, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	})
	if err != nil {
		telemetry.AdmissionCounter.WithLabelValues("error").Inc()
		if _, releaseErr := c.slot.Release(ctx, connID); releaseErr != nil {
			log.Error().Err(releaseErr).Str("service", "admission").Msg("release slot after engine error")
		}
		if closeErr := c.engine.Close(connID); closeErr != nil {
			log.Error().Err(closeErr).Str("service", "admission").Msg("close engine session")
		}
		return Answer{}, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	c.live[connID] = struct{}{}
	telemetry.SessionStarted()
	telemetry.AdmissionCounter.WithLabelValues("admitted").Inc()

	record := &SessionRecord{
		ConnectionID: connID,
		ClientID:     req.ID,
		RemoteIP:     req.IP,
		CreatedAt:    c.Clock.Now(),
	}
	if _, err := c.sessions.Save(ctx, record); err != nil {
		log.Error().Err(err).Str("service", "admission").Str("connectionId", string(connID)).Msg("can't save session record")
	}

	log.Info().Str("service", "admission").Str("connectionId", string(connID)).Str("clientId", req.ID).Msg("session admitted")

	return Answer{
		Type:          webrtc.SDPTypeAnswer.String(),
		SDP:           answer.SDP,
		ValidationKey: key,
	}, nil
}

// Release moves the slot back to Idle if connID still holds it. Releasing
// an unknown or already released session is a no-op.
func (c *Controller) Release(ctx context.Context, connID core.ConnectionID, reason string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.releaseLocked(ctx, connID, reason)
}

// ReleaseCurrent releases whatever session holds the slot
func (c *Controller) ReleaseCurrent(ctx context.Context, reason string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	lease, ok, err := c.slot.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}

	return c.releaseLocked(ctx, lease.ConnectionID, reason)
}

// Validate reports which session the key belongs to
func (c *Controller) Validate(ctx context.Context, key string) (core.ConnectionID, bool) {
	if key == "" {
		return "", false
	}

	lease, ok, err := c.slot.Current(ctx)
	if err != nil {
		log.Error().Err(err).Str("service", "admission").Msg("read slot")
		return "", false
	}
	if !ok {
		return "", false
	}

	if subtle.ConstantTimeCompare([]byte(lease.Key), []byte(key)) != 1 {
		return "", false
	}

	return lease.ConnectionID, true
}

// Touch extends the lease of a live session
func (c *Controller) Touch(ctx context.Context, connID core.ConnectionID) error {
	ok, err := c.slot.Refresh(ctx, connID, c.IdleTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}

	return nil
}

// Current returns the connection holding the slot
func (c *Controller) Current(ctx context.Context) (core.ConnectionID, bool, error) {
	lease, ok, err := c.slot.Current(ctx)
	if err != nil || !ok {
		return "", false, err
	}

	return lease.ConnectionID, true, nil
}

// AddICECandidate hands a trickled candidate to the live session
func (c *Controller) AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	connID, ok, err := c.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}

	return c.engine.AddICECandidate(ctx, connID, candidate)
}

// Sweep releases the local sessions whose lease has expired and returns
// how many were released
func (c *Controller) Sweep(ctx context.Context) int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.sweepLocked(ctx)
}

// Run sweeps periodically until ctx is done, then releases every local
// session
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(ctx); n > 0 {
				log.Info().Str("service", "admission").Int("released", n).Msg("expired sessions released")
			}
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		}
	}
}

func (c *Controller) shutdown() {
	c.lock.Lock()
	defer c.lock.Unlock()

	ctx := context.Background()
	for connID := range c.live {
		if err := c.releaseLocked(ctx, connID, ReasonShutdown); err != nil {
			log.Error().Err(err).Str("service", "admission").Str("connectionId", string(connID)).Msg("release on shutdown")
		}
	}
}

func (c *Controller) sweepLocked(ctx context.Context) int {
	if len(c.live) == 0 {
		return 0
	}

	lease, ok, err := c.slot.Current(ctx)
	if err != nil {
		log.Error().Err(err).Str("service", "admission").Msg("read slot")
		return 0
	}

	released := 0
	for connID := range c.live {
		if ok && lease.ConnectionID == connID {
			continue
		}
		if err := c.releaseLocked(ctx, connID, ReasonExpired); err != nil {
			log.Error().Err(err).Str("service", "admission").Str("connectionId", string(connID)).Msg("release expired session")
			continue
		}
		released++
	}

	return released
}

func (c *Controller) releaseLocked(ctx context.Context, connID core.ConnectionID, reason string) error {
	if _, err := c.slot.Release(ctx, connID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}

	if _, ok := c.live[connID]; !ok {
		return nil
	}
	delete(c.live, connID)

	if err := c.engine.Close(connID); err != nil {
		log.Error().Err(err).Str("service", "admission").Str("connectionId", string(connID)).Msg("close engine session")
	}
	if err := c.sessions.MarkReleased(ctx, connID, reason); err != nil {
		log.Error().Err(err).Str("service", "admission").Str("connectionId", string(connID)).Msg("can't mark session released")
	}

	telemetry.SessionStopped()
	telemetry.ReleaseCounter.WithLabelValues(reason).Inc()
	log.Info().Str("service", "admission").Str("connectionId", string(connID)).Str("reason", reason).Msg("session released")

	return nil
}

func newValidationKey() (string, error) {
	b := make([]byte, validationKeySize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
