package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/config"
	"github.com/isqad/robosignal/internal/core"
)

const (
	dtlsRetransmissionInterval = 100 * time.Millisecond
	iceDisconnectedTimeout     = 10 * time.Second
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

// PCTransport is the peer connection of one admitted session. Candidates
// trickled before the remote description is set are queued.
type PCTransport struct {
	connID core.ConnectionID
	pc     *webrtc.PeerConnection

	lock              sync.Mutex
	pendingCandidates []webrtc.ICECandidateInit
}

func newAPI(conf *config.WebRTCConfig) (*webrtc.API, error) {
	me, registry, err := createMediaEngine()
	if err != nil {
		return nil, err
	}

	se := conf.SettingEngine
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

func NewPCTransport(api *webrtc.API, conf *config.WebRTCConfig, connID core.ConnectionID) (*PCTransport, error) {
	pc, err := api.NewPeerConnection(conf.Configuration)
	if err != nil {
		return nil, err
	}

	t := &PCTransport{
		connID:            connID,
		pc:                pc,
		pendingCandidates: make([]webrtc.ICECandidateInit, 0),
	}

	t.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "rtc").Str("connectionId", string(connID)).Msg("ICE gathering complete")
		}
	})

	return t, nil
}

func (t *PCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.pc.RemoteDescription() != nil {
		return t.pc.AddICECandidate(candidate)
	}

	t.pendingCandidates = append(t.pendingCandidates, candidate)

	return nil
}

func (t *PCTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	for _, candidate := range t.pendingCandidates {
		if err := t.pc.AddICECandidate(candidate); err != nil {
			log.Error().Err(err).Str("service", "rtc").Str("connectionId", string(t.connID)).Msg("add pending ICE candidate")
		}
	}
	t.pendingCandidates = make([]webrtc.ICECandidateInit, 0)

	return nil
}

// Answer creates the local answer and waits until ICE gathering is done,
// so the returned SDP carries every candidate.
func (t *PCTransport) Answer(ctx context.Context) (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	return *t.pc.LocalDescription(), nil
}

func (t *PCTransport) Close() {
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("service", "rtc").Str("connectionId", string(t.connID)).Msg("close peer connection")
	}
}
