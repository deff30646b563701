// Package api is the HTTP face of the robot: offer admission, trickled
// candidates and the websocket emulation of the data channel.
package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isqad/melody"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/robosignal/internal/admission"
	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/protocol"
	"github.com/isqad/robosignal/internal/telemetry"
)

const defaultShutdownTimeout = 20 * time.Second

// SessionController is what the HTTP layer needs from admission.Controller
type SessionController interface {
	Offer(ctx context.Context, req admission.OfferRequest) (admission.Answer, error)
	AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
	Release(ctx context.Context, connID core.ConnectionID, reason string) error
	ReleaseCurrent(ctx context.Context, reason string) error
	Current(ctx context.Context) (core.ConnectionID, bool, error)
	Touch(ctx context.Context, connID core.ConnectionID) error
	Run(ctx context.Context) error
}

// AppOptions is options of the application
type AppOptions struct {
	Env             core.Environment
	Address         string
	Version         string
	AllowOrigins    []string
	ShutdownTimeout time.Duration
	MaxMessageSize  int64

	Controller SessionController
	Channels   *protocol.Handler

	websocket *melody.Melody
	uptime    *telemetry.Uptime
}

// App is the robot HTTP application
type App struct {
	AppOptions
}

func NewApp(options AppOptions) *App {
	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = options.MaxMessageSize
	if options.websocket.Config.MaxMessageSize <= 0 {
		options.websocket.Config.MaxMessageSize = 64 * 1024
	}
	options.websocket.Upgrader.CheckOrigin = func(r *http.Request) bool { return true }

	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(options.AllowOrigins) == 0 {
		options.AllowOrigins = []string{"*"}
	}
	options.uptime = telemetry.NewUptime(nil)

	return &App{
		options,
	}
}

// Start serves until SIGINT or SIGTERM, then releases the live session
func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		if err := app.Controller.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Str("service", "api").Msg("session sweeper stopped")
		}
	}()

	server := &http.Server{
		Addr:              app.Address,
		Handler:           app.Router(),
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Msg("received signal to terminate the server")

		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Str("service", "api").Msg("close websockets")
		}
		cancel()
		<-sweeperDone

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

	log.Info().Str("service", "api").Str("address", app.Address).Msg("robot server is listening")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

// Router is function for construct http router
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.RequestLogger("api"))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: app.AllowOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	app.websocket.HandleConnect(ChannelConnectHandler(app.Channels))
	app.websocket.HandleMessage(ChannelMessageHandler(app.Controller))
	app.websocket.HandleDisconnect(ChannelDisconnectHandler(app.Controller))
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Debug().Err(err).Str("service", "channel").Msg("error in websocket session")
	})

	r.Route("/webrtc", func(r chi.Router) {
		r.Post("/offer", OfferHandler(app.Controller))
		r.Post("/candidate", CandidateHandler(app.Controller))
		r.Delete("/session", SessionDeleteHandler(app.Controller))
		r.Get("/channel", ChannelHandler(app.Controller, app.websocket))
	})
	r.Post("/offer", OfferHandler(app.Controller))

	r.Get("/health", telemetry.HealthHandler(app.uptime))
	r.Get("/status", telemetry.StatusHandler(app.uptime, app.Version, app.sessionStats))
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	return r
}

func (app *App) sessionStats(r *http.Request) map[string]interface{} {
	state := "idle"
	if _, ok, err := app.Controller.Current(r.Context()); err != nil {
		state = "unknown"
	} else if ok {
		state = "occupied"
	}

	return map[string]interface{}{"session": state}
}
