package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/admission"
	"github.com/isqad/robosignal/internal/telemetry"
)

type CandidateRequest struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// OfferHandler admits or rejects an offer. A rejected offer is still a 200
// with the reject sentinel in sdp.
func OfferHandler(controller SessionController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := admission.OfferRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Debug().Err(err).Str("service", "api").Msg("can't parse offer")
			telemetry.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offer body"})
			return
		}
		if req.Type != webrtc.SDPTypeOffer.String() || req.SDP == "" {
			telemetry.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "expected type offer with sdp"})
			return
		}
		if req.IP == "" {
			req.IP = remoteIP(r)
		}

		answer, err := controller.Offer(r.Context(), req)
		if err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't answer the offer")
			message := "internal error"
			if errors.Is(err, admission.ErrEngine) {
				message = "can't establish the session"
			}
			telemetry.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: message})
			return
		}

		telemetry.WriteJSON(w, http.StatusOK, answer)
	}
}

// CandidateHandler hands a trickled ICE candidate to the live session
func CandidateHandler(controller SessionController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := CandidateRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Candidate.Candidate == "" {
			telemetry.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid candidate body"})
			return
		}

		err := controller.AddICECandidate(r.Context(), req.Candidate)
		if errors.Is(err, admission.ErrNoSession) {
			telemetry.WriteJSON(w, http.StatusConflict, errorResponse{Error: "no active session"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't add ICE candidate")
			telemetry.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// SessionDeleteHandler closes the live session, if any
func SessionDeleteHandler(controller SessionController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := controller.ReleaseCurrent(r.Context(), admission.ReasonClosed)
		if err != nil && !errors.Is(err, admission.ErrNoSession) {
			log.Error().Err(err).Str("service", "api").Msg("can't release the session")
			telemetry.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
