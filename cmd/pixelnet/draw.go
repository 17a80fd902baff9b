package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/config"
)

const idlePoll = 100 * time.Millisecond

func drawCommand() *cli.Command {
	return &cli.Command{
		Name:  "draw",
		Usage: "Draw an image onto the board",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "image",
				Usage: "Image file (PNG, JPEG or GIF), overrides image.path",
			},
			&cli.IntFlag{
				Name:  "x",
				Usage: "Left edge on the board, overrides image.x",
			},
			&cli.IntFlag{
				Name:  "y",
				Usage: "Top edge on the board, overrides image.y",
			},
			&cli.Float64Flag{
				Name:  "scale",
				Usage: "Nearest-neighbor scale factor, overrides image.scale",
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to wait for outstanding results after the last batch",
				Value: 30 * time.Second,
			},
		},
		Action: drawAction,
	}
}

func drawAction(c *cli.Context) error {
	cfg, err := loadConfig(c, func(cfg *config.Config) {
		if c.IsSet("image") {
			cfg.Image.Path = c.String("image")
		}
		if c.IsSet("x") {
			cfg.Image.X = c.Int("x")
		}
		if c.IsSet("y") {
			cfg.Image.Y = c.Int("y")
		}
		if c.IsSet("scale") {
			cfg.Image.Scale = c.Float64("scale")
		}
	})
	if err != nil {
		return err
	}
	if cfg.Image.Path == "" {
		return cli.Exit("no image: set image.path or --image", exitConfigError)
	}
	if cfg.ReadOnly {
		return cli.Exit("draw needs write access, read_only is set", exitConfigError)
	}

	raster, err := loadRaster(cfg.Image.Path)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	s, err := newSession(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := s.engine(cfg.Mode(), nil)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	stopMetrics := s.serveMetrics(func() pixelnet.ConnState { return engine.Stats().State })
	defer stopMetrics(context.Background())

	if err := engine.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("start: %v", err), exitFailure)
	}
	defer closeEngine(engine, s.logger)

	summary, err := engine.Draw(ctx, raster, cfg.Placement(), progressLogger(s.logger))
	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(fmt.Sprintf("draw: %v", err), exitFailure)
	}

	if !summary.Cancelled {
		if err := waitIdle(ctx, engine, c.Duration("wait")); err != nil {
			s.logger.Warn("results still outstanding", zap.Error(err), zap.Int("pending", engine.Stats().PendingResults))
		}
	}

	s.logger.Info("draw summary",
		zap.String("image", cfg.Image.Path),
		zap.Int("pixels", summary.Pixels),
		zap.Int("total", summary.Total),
		zap.Int("batches", summary.Batches),
		zap.Bool("cancelled", summary.Cancelled),
	)
	return nil
}

// progressLogger logs draw progress at most once a second, plus the final
// call.
func progressLogger(logger *zap.Logger) pixelnet.ProgressFunc {
	every := rate.Sometimes{Interval: time.Second}
	return func(done, total int) {
		log := func() {
			logger.Info("draw progress",
				zap.Int("done", done),
				zap.Int("total", total),
				zap.String("percent", fmt.Sprintf("%.1f", 100*float64(done)/float64(max(total, 1)))),
			)
		}
		if done == total {
			log()
			return
		}
		every.Do(log)
	}
}

// waitIdle blocks until nothing is queued, buffered or awaiting a result.
func waitIdle(ctx context.Context, engine pixelnet.Engine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		st := engine.Stats()
		if st.QueueLength == 0 && st.BufferedBytes == 0 && st.PendingResults == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func closeEngine(engine pixelnet.Engine, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Close(ctx); err != nil {
		logger.Warn("engine close", zap.Error(err))
	}
}
