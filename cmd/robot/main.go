package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/isqad/robosignal/internal/admission"
	"github.com/isqad/robosignal/internal/api"
	"github.com/isqad/robosignal/internal/config"
	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/protocol"
	"github.com/isqad/robosignal/internal/robot"
	"github.com/isqad/robosignal/internal/rtc"
	"github.com/isqad/robosignal/internal/telemetry"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:        "robosignal-robot",
		Usage:       "Robot endpoint: exclusive WebRTC session and data channel protocol",
		Description: "",
		Version:     version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':8080', overrides server.address",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a yaml config file",
				EnvVars: []string{"ROBOSIGNAL_CONFIG"},
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	env, err := core.ParseEnvironment(c.String("env"))
	if err != nil {
		return err
	}
	telemetry.InitLogger(env)

	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("address") {
		conf.Server.Address = c.String("address")
	}

	slot, err := newSlot(conf)
	if err != nil {
		return err
	}

	sessions, closeDB, err := newSessionsStorer(conf)
	if err != nil {
		return err
	}
	defer closeDB()

	sink, closeSink, err := newSink(conf)
	if err != nil {
		return err
	}
	defer closeSink()

	engine, bind, err := newEngine(conf)
	if err != nil {
		return err
	}

	controller := admission.NewController(slot, engine, sessions, admission.Options{
		IdleTimeout:   conf.Session.IdleTimeout,
		SweepInterval: conf.Session.SweepInterval,
	})
	channels := protocol.NewHandler(controller, sink, protocol.Options{
		RequireValidation: conf.Protocol.RequireValidation,
		Robot: protocol.RobotInfo{
			Model:        conf.Robot.Model,
			Version:      conf.Robot.Version,
			SerialNumber: conf.Robot.SerialNumber,
			Capabilities: conf.Robot.Capabilities,
		},
	})
	bind(controller, channels)

	log.Info().
		Str("service", "robot").
		Str("engine", conf.Session.Engine).
		Dur("idleTimeout", conf.Session.IdleTimeout).
		Bool("requireValidation", conf.Protocol.RequireValidation).
		Msg("robot endpoint is configured")

	app := api.NewApp(api.AppOptions{
		Env:             env,
		Address:         conf.Server.Address,
		Version:         version,
		AllowOrigins:    conf.CORS.AllowOrigins,
		ShutdownTimeout: conf.Server.ShutdownTimeout,
		MaxMessageSize:  conf.Signaling.MaxMessageSize,
		Controller:      controller,
		Channels:        channels,
	})

	return app.Start()
}

func newSlot(conf *config.Config) (admission.SlotStore, error) {
	if conf.Redis.Addr == "" {
		return admission.NewMemorySlot(nil), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: conf.Redis.Addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", conf.Redis.Addr, err)
	}

	log.Info().Str("service", "robot").Str("addr", conf.Redis.Addr).Msg("session slot is shared via redis")

	return admission.NewRedisSlot(rdb, conf.Redis.Key), nil
}

func newSessionsStorer(conf *config.Config) (admission.SessionsStorer, func(), error) {
	if conf.Database.URL == "" {
		return nil, func() {}, nil
	}

	db, err := sqlx.Connect("pgx", conf.Database.URL)
	if err != nil {
		return nil, nil, err
	}

	return admission.NewSessionsRepository(db), func() { db.Close() }, nil
}

func newSink(conf *config.Config) (protocol.CommandSink, func(), error) {
	if conf.Nats.URL == "" {
		return robot.LogSink{}, func() {}, nil
	}

	sink, err := robot.NewNatsSink(conf.Nats.URL, conf.Nats.Subject)
	if err != nil {
		return nil, nil, fmt.Errorf("nats %s: %w", conf.Nats.URL, err)
	}

	return sink, func() {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Str("service", "robot").Msg("close nats sink")
		}
	}, nil
}

func newEngine(conf *config.Config) (admission.Engine, func(rtc.SessionKeeper, *protocol.Handler), error) {
	if conf.Session.Engine == config.StubEngine {
		return admission.NewStubEngine(conf.Session.Host), func(rtc.SessionKeeper, *protocol.Handler) {}, nil
	}

	webrtcConf, err := config.NewWebRTCConfig(conf)
	if err != nil {
		return nil, nil, err
	}

	engine, err := rtc.NewEngine(webrtcConf)
	if err != nil {
		return nil, nil, err
	}

	return engine, engine.Bind, nil
}
