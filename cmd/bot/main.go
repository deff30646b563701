package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/robosignal/internal/bot"
	"github.com/isqad/robosignal/internal/config"
	"github.com/isqad/robosignal/internal/core"
	"github.com/isqad/robosignal/internal/telemetry"
)

func main() {
	app := &cli.App{
		Name:        "robosignal-bot",
		Usage:       "Probe peer for the signaling server",
		Description: "Joins a room and opens data channels with the peers in it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Value: "ws://localhost:8080/ws",
				Usage: "signaling websocket url",
			},
			&cli.StringFlag{
				Name:     "room",
				Usage:    "room to join",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "offer",
				Usage: "send offers to the peers already in the room",
			},
			&cli.StringFlag{
				Name:  "greeting",
				Value: "hello",
				Usage: "text sent over every opened data channel",
			},
			&cli.StringSliceFlag{
				Name:  "ice-server",
				Value: cli.NewStringSlice(config.DefaultStunServers...),
				Usage: "STUN/TURN server urls",
			},
		},
		Action: startBot,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startBot(c *cli.Context) error {
	telemetry.InitLogger(core.DevelopmentEnv)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bot.New(bot.Options{
		URL:        c.String("url"),
		Room:       core.RoomID(c.String("room")),
		Offer:      c.Bool("offer"),
		Greeting:   c.String("greeting"),
		ICEServers: c.StringSlice("ice-server"),
	})

	err := b.Run(ctx)
	if err != nil && ctx.Err() == context.Canceled {
		return nil
	}

	return err
}
