package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/ws"
)

func boardCommand() *cli.Command {
	return &cli.Command{
		Name:  "board",
		Usage: "Serve an in-process board with the token and paint endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: ":8080",
			},
			&cli.StringSliceFlag{
				Name:  "account",
				Usage: "Account as uid:access_key, repeatable",
			},
			&cli.DurationFlag{
				Name:  "cooldown",
				Usage: "Per-account interval between accepted paints",
				Value: pixelnet.DefaultCooldown,
			},
			&cli.DurationFlag{
				Name:  "heartbeat",
				Usage: "Heartbeat probe interval (0 disables probes)",
				Value: 30 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "no-rate-limit",
				Usage: "Disable the per-connection frame limit",
			},
		},
		Action: boardAction,
	}
}

// parseAccount splits "uid:access_key".
func parseAccount(s string) (uint32, string, error) {
	uid, key, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return 0, "", fmt.Errorf("account %q: want uid:access_key", s)
	}
	n, err := strconv.ParseUint(uid, 10, 24)
	if err != nil {
		return 0, "", fmt.Errorf("account %q: uid: %w", s, err)
	}
	return uint32(n), key, nil
}

func boardAction(c *cli.Context) error {
	logger, err := newLogger(c, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rl := ws.DefaultRateLimitConfig()
	if c.Bool("no-rate-limit") {
		rl = ws.NoRateLimit()
	}
	cfg := ws.NewConfig(c.String("addr"), rl, ws.AllOrigins(),
		func(peer *ws.Peer) {
			logger.Info("peer connected", zap.String("peer", peer.ID()), zap.String("remote", peer.RemoteAddr()))
		},
		func(peer *ws.Peer, voluntary bool) {
			logger.Info("peer disconnected", zap.String("peer", peer.ID()), zap.Bool("voluntary", voluntary))
		},
	)
	cfg.Cooldown = c.Duration("cooldown")
	cfg.HeartbeatInterval = c.Duration("heartbeat")
	cfg.HeartbeatTimeout = 2 * cfg.HeartbeatInterval
	cfg.Logger = logger

	board := ws.NewBoard(cfg)
	for _, a := range c.StringSlice("account") {
		uid, key, err := parseAccount(a)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		board.IssueToken(uid, key)
		logger.Info("account registered", zap.Uint32("uid", uid))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := board.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("board: %v", err), exitFailure)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := board.Stop(stopCtx); err != nil {
		logger.Warn("board shutdown", zap.Error(err))
	}
	frames, paints, heartbeats := board.Counters()
	logger.Info("board stopped",
		zap.Int64("frames", frames),
		zap.Int64("paints", paints),
		zap.Int64("heartbeats", heartbeats),
	)
	return nil
}
