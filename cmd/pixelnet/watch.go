package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Connect read-only and report board updates",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "How often to log the update count",
				Value: 10 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
		},
		Action: watchAction,
	}
}

// updateCounter counts board updates per reporting interval.
type updateCounter struct {
	total  atomic.Int64
	window atomic.Int64
	last   atomic.Pointer[pixelnet.BoardUpdate]
}

func (u *updateCounter) OnBoardUpdate(update pixelnet.BoardUpdate) {
	u.total.Add(1)
	u.window.Add(1)
	u.last.Store(&update)
}

func watchAction(c *cli.Context) error {
	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	counter := &updateCounter{}
	engine, err := s.engine(pixelnet.ModeReadOnly, counter)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	stopMetrics := s.serveMetrics(func() pixelnet.ConnState { return engine.Stats().State })
	defer stopMetrics(context.Background())

	if err := engine.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("start: %v", err), exitFailure)
	}
	defer closeEngine(engine, s.logger)

	interval := c.Duration("interval")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watch stopped", zap.Int64("updates", counter.total.Load()))
			return nil
		case <-ticker.C:
			fields := []zap.Field{
				zap.Int64("updates", counter.window.Swap(0)),
				zap.Duration("interval", interval),
				zap.Stringer("state", engine.Stats().State),
			}
			if u := counter.last.Load(); u != nil {
				fields = append(fields, zap.Int("last_x", int(u.X)), zap.Int("last_y", int(u.Y)))
			}
			s.logger.Info("board activity", fields...)

			if engine.Stats().State == pixelnet.StateDisconnected {
				return cli.Exit("connection lost", exitFailure)
			}
		}
	}
}
