package admission

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/randutil"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/isqad/robosignal/internal/core"
)

const (
	iceRunes       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/"
	iceUfragLength = 8
	icePwdLength   = 24
	sctpPort       = "5000"
)

var ErrInvalidOffer = errors.New("invalid offer")

// StubEngine answers with a syntactically valid data channel SDP without
// running ICE or DTLS. The data channel itself is emulated over a
// websocket by the robot HTTP app.
type StubEngine struct {
	// Host is advertised in the host candidate
	Host string
}

func NewStubEngine(host string) *StubEngine {
	if host == "" {
		host = "127.0.0.1"
	}

	return &StubEngine{Host: host}
}

func (e *StubEngine) Answer(ctx context.Context, connID core.ConnectionID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer || strings.TrimSpace(offer.SDP) == "" {
		return webrtc.SessionDescription{}, ErrInvalidOffer
	}

	mid := offeredMid(offer.SDP)

	ufrag, err := randutil.GenerateCryptoRandomString(iceUfragLength, iceRunes)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(icePwdLength, iceRunes)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	fingerprint, err := randomFingerprint()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	desc, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "application",
			Port:    sdp.RangedPort{Value: 9},
			Protos:  []string{"UDP", "DTLS", "SCTP"},
			Formats: []string{"webrtc-datachannel"},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
	}
	media = media.
		WithValueAttribute(sdp.AttrKeyMID, mid).
		WithICECredentials(ufrag, pwd).
		WithValueAttribute(sdp.AttrKeyConnectionSetup, sdp.ConnectionRoleActive.String()).
		WithValueAttribute("sctp-port", sctpPort).
		WithFingerprint("sha-256", fingerprint).
		WithCandidate(fmt.Sprintf("1 1 udp 2130706431 %s 9 typ host", e.Host))

	desc = desc.
		WithValueAttribute(sdp.AttrKeyGroup, "BUNDLE "+mid).
		WithMedia(media)

	raw, err := desc.Marshal()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(raw)}, nil
}

// AddICECandidate accepts and drops the candidate, there is no ICE agent
func (e *StubEngine) AddICECandidate(ctx context.Context, connID core.ConnectionID, candidate webrtc.ICECandidateInit) error {
	return nil
}

func (e *StubEngine) Close(connID core.ConnectionID) error {
	return nil
}

// offeredMid returns the mid of the offered application section, "0" when
// the offer can't be parsed
func offeredMid(raw string) string {
	desc := sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "0"
	}

	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media != "application" {
			continue
		}
		if mid, ok := media.Attribute(sdp.AttrKeyMID); ok && mid != "" {
			return mid
		}
	}

	return "0"
}

func randomFingerprint() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}

	return strings.Join(parts, ":"), nil
}
