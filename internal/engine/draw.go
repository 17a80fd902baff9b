package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/planner"
)

// Draw plans raster at placement and submits it one batch at a time. The next
// batch is submitted only once the previous one left the queue.
func (e *Engine) Draw(ctx context.Context, raster pixelnet.Raster, placement pixelnet.Placement, progress pixelnet.ProgressFunc) (pixelnet.DrawSummary, error) {
	batchSize := min(e.pool.BatchSize(), e.opts.MaxFrameSize/pixelnet.PacketSize)
	if batchSize == 0 {
		return pixelnet.DrawSummary{}, pixelnet.ErrNoTokens
	}
	plan, err := planner.New(raster, placement, batchSize)
	if err != nil {
		return pixelnet.DrawSummary{}, err
	}

	e.drawMu.Lock()
	if e.drawCancel != nil {
		e.drawMu.Unlock()
		return pixelnet.DrawSummary{}, pixelnet.ErrDrawInProgress
	}
	dctx, cancel := context.WithCancel(ctx)
	e.drawCancel = cancel
	e.drawMu.Unlock()

	defer func() {
		e.drawMu.Lock()
		e.drawCancel = nil
		e.drawMu.Unlock()
		cancel()
	}()

	summary := pixelnet.DrawSummary{Total: plan.Total()}
	e.drawDone.Store(0)
	e.drawTotal.Store(int64(summary.Total))

	width, height := plan.Size()
	e.logger.Info("draw started",
		zap.Int("x", placement.X),
		zap.Int("y", placement.Y),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("pixels", summary.Total),
		zap.Int("batches", plan.BatchCount()),
	)

	for pixels := range plan.Batches() {
		if dctx.Err() != nil {
			break
		}
		b, err := e.Submit(dctx, pixels)
		if err != nil {
			if dctx.Err() != nil {
				break
			}
			e.logger.Warn("draw stopped", zap.Int("done", summary.Pixels), zap.Error(err))
			return summary, err
		}

		select {
		case <-b.Dispatched():
		case <-dctx.Done():
		}
		if dctx.Err() != nil {
			break
		}

		summary.Batches++
		summary.Pixels += len(pixels)
		e.drawDone.Store(int64(summary.Pixels))
		if progress != nil {
			progress(summary.Pixels, summary.Total)
		}
	}

	if dctx.Err() != nil {
		summary.Cancelled = true
		e.logger.Info("draw cancelled", zap.Int("done", summary.Pixels), zap.Int("total", summary.Total))
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		return summary, nil
	}

	e.logger.Info("draw finished", zap.Int("batches", summary.Batches), zap.Int("pixels", summary.Pixels))
	return summary, nil
}

// CancelDraw stops the draw in progress. Batches already queued still drain.
func (e *Engine) CancelDraw() {
	e.drawMu.Lock()
	cancel := e.drawCancel
	e.drawMu.Unlock()

	if cancel != nil {
		cancel()
	}
}
