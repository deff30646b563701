package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/robot"
	"github.com/isqad/robosignal/internal/telemetry"
)

func main() {
	app := &cli.App{
		Name:        "robosignal-bridge",
		Usage:       "Consumes robot commands published by the server",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: string(core.DevelopmentEnv),
			},
			&cli.StringFlag{
				Name:  "natsAddr",
				Value: "nats://127.0.0.1:4222",
				Usage: "Address to connect to NATS server",
			},
			&cli.StringFlag{
				Name:  "subject",
				Value: robot.DefaultCommandsSubject,
				Usage: "subject the commands are published on",
			},
		},
		Action: start,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func start(c *cli.Context) error {
	env, err := core.ParseEnvironment(c.String("env"))
	if err != nil {
		return err
	}
	telemetry.InitLogger(env)

	// no hardware driver yet, commands are only logged
	bridge, err := robot.NewBridge(c.String("natsAddr"), c.String("subject"), robot.LogSink{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return bridge.Run(ctx)
}
