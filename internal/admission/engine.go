package admission

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/robosignal/internal/core"
)

// OfferRequest is the body of POST /webrtc/offer
type OfferRequest struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	// ID and IP are reported by some clients, kept for the audit trail
	ID string `json:"id,omitempty"`
	IP string `json:"ip,omitempty"`
}

// Answer is returned for every offer. A rejected offer carries the
// RejectSDP sentinel and no key.
type Answer struct {
	Type          string `json:"type"`
	SDP           string `json:"sdp"`
	ValidationKey string `json:"validationKey,omitempty"`
}

const RejectSDP = "reject"

func RejectAnswer() Answer {
	return Answer{Type: webrtc.SDPTypeAnswer.String(), SDP: RejectSDP}
}

func (a Answer) Rejected() bool {
	return a.SDP == RejectSDP
}

// Engine produces the SDP answer and owns whatever transport resources
// back a session.
type Engine interface {
	Answer(ctx context.Context, connID core.ConnectionID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddICECandidate(ctx context.Context, connID core.ConnectionID, candidate webrtc.ICECandidateInit) error
	Close(connID core.ConnectionID) error
}
