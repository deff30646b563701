package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
)

// InitLogger switches the global logger to the console writer; debug
// level in development
func InitLogger(env core.Environment) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel

	if env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}

// RequestLogger logs every request once it is served
func RequestLogger(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				log.Debug().
					Str("service", service).
					Str("requestId", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request served")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Uptime reports the time since the process started serving
type Uptime struct {
	started time.Time
	clock   core.Clock
}

func NewUptime(clock core.Clock) *Uptime {
	if clock == nil {
		clock = core.SystemClock()
	}

	return &Uptime{started: clock.Now(), clock: clock}
}

// Fields returns uptime in seconds and the current timestamp
func (u *Uptime) Fields() map[string]interface{} {
	now := u.clock.Now()

	return map[string]interface{}{
		"uptime":    now.Sub(u.started).Seconds(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
}

// HealthHandler answers {status:"ok", uptime, timestamp}
func HealthHandler(uptime *Uptime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := uptime.Fields()
		body["status"] = "ok"

		WriteJSON(w, http.StatusOK, body)
	}
}

// StatusHandler answers {status:"running", version, uptime, timestamp}
// merged with whatever stats returns
func StatusHandler(uptime *Uptime, version string, stats func(r *http.Request) map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := uptime.Fields()
		for k, v := range stats(r) {
			body[k] = v
		}
		body["status"] = "running"
		body["version"] = version

		WriteJSON(w, http.StatusOK, body)
	}
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Str("service", "http").Msg("can't encode response")
	}
}
