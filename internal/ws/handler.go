package ws

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/signaling"
)

func WsHandler(server *signaling.Server) http.HandlerFunc {
	handler := server.Handler()

	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("service", "ws").Str("remote", r.RemoteAddr).Msg("websocket requested")

		handler(w, r)
	}
}

// StatsHandler adds the directory size to /status
func StatsHandler(server *signaling.Server) func(r *http.Request) map[string]interface{} {
	return func(r *http.Request) map[string]interface{} {
		stats := server.Stats()

		return map[string]interface{}{
			"rooms": stats.Rooms,
			"peers": stats.Peers,
		}
	}
}
