// Package ws serves the room based signaling relay
package ws

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/eventbus"
	"github.com/isqad/robosignal/internal/registry"
	"github.com/isqad/robosignal/internal/signaling"
	"github.com/isqad/robosignal/internal/telemetry"
)

const defaultShutdownTimeout = 20 * time.Second

// WsAppOptions is options of the application
type WsAppOptions struct {
	Env             core.Environment
	Address         string
	Version         string
	ShutdownTimeout time.Duration

	EnforceSameRoom bool
	InboxSize       int
	MaxMessageSize  int64

	server *signaling.Server
	uptime *telemetry.Uptime
}

// WsApp is application for Websocket server
type WsApp struct {
	WsAppOptions
}

func New(options WsAppOptions) *WsApp {
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = defaultShutdownTimeout
	}

	reg := registry.New()
	bus := eventbus.Local(options.InboxSize)
	relay := signaling.NewRelay(reg, bus, signaling.RelayOptions{EnforceSameRoom: options.EnforceSameRoom})

	options.server = signaling.NewServer(reg, bus, relay, signaling.ServerOptions{
		MaxMessageSize: options.MaxMessageSize,
	})
	options.uptime = telemetry.NewUptime(nil)

	app := &WsApp{
		options,
	}
	return app
}

func (app *WsApp) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	router := app.Router()

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.Address,
		Handler:           router,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Msg("received signal to terminate the server")

		// hijacked websocket connections are not closed by Shutdown
		if err := app.server.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("close websockets")
		}

		log.Info().Msg("all services are stopped")
		close(done)
	})

	// Shutdown the HTTP server
	go func() {
		<-quit
		log.Warn().Msg("the server is going shutting down")

		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	log.Info().Str("service", "ws").Str("address", app.Address).Msg("signaling server is listening")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

// Router is function for construct http router
func (app *WsApp) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.RequestLogger("ws"))
	r.Use(middleware.Recoverer)

	r.Get("/ws", WsHandler(app.server))
	r.Get("/health", telemetry.HealthHandler(app.uptime))
	r.Get("/status", telemetry.StatusHandler(app.uptime, app.Version, StatsHandler(app.server)))
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	return r
}
