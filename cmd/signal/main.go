package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/robosignal/internal/config"
	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/telemetry"
	"github.com/isqad/robosignal/internal/ws"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:        "robosignal-signal",
		Usage:       "Room based WebRTC signaling server",
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
				Usage: "listen IP and port, example: ':80' for listen on 0.0.0.0:80, overrides server.address",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a yaml config file",
				EnvVars: []string{"ROBOSIGNAL_CONFIG"},
			},
		},
		Action: startWs,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startWs(c *cli.Context) error {
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

	wsApp := ws.New(ws.WsAppOptions{
		Address:         conf.Server.Address,
		Env:             env,
		Version:         version,
		ShutdownTimeout: conf.Server.ShutdownTimeout,
		EnforceSameRoom: conf.Signaling.EnforceSameRoom,
		InboxSize:       conf.Signaling.InboxSize,
		MaxMessageSize:  conf.Signaling.MaxMessageSize,
	})

	return wsApp.Start()
}
