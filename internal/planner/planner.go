// Package planner maps a raster onto board coordinates and splits it into
// submission-sized batches.
package planner

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/luciancaetano/pixelnet"
)

// ErrInvalidRaster is returned for a raster whose buffer does not match its
// dimensions, or for an unusable placement.
var ErrInvalidRaster = errors.New("invalid raster")

// Planner produces the batches of one draw. It holds no iteration state, so
// Batches can be ranged over any number of times.
type Planner struct {
	raster    pixelnet.Raster
	startX    int
	startY    int
	scale     float64
	batchSize int

	dstW, dstH int
	// visible part of the footprint, in destination coordinates
	dxMin, dxMax int
	dyMin, dyMax int
}

// New validates the raster and placement and returns a planner that chunks
// the visible pixels into batches of at most batchSize.
func New(r pixelnet.Raster, p pixelnet.Placement, batchSize int) (*Planner, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidRaster, r.Width, r.Height)
	}
	if need := r.Width * r.Height * 3; len(r.Pix) < need {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d, want %d", ErrInvalidRaster, len(r.Pix), r.Width, r.Height, need)
	}
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: scale %v", ErrInvalidRaster, p.Scale)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size %d", pixelnet.ErrCapacity, batchSize)
	}

	pl := &Planner{
		raster:    r,
		startX:    p.X,
		startY:    p.Y,
		scale:     scale,
		batchSize: batchSize,
		dstW:      int(float64(r.Width) * scale),
		dstH:      int(float64(r.Height) * scale),
	}
	pl.dxMin, pl.dxMax = clip(p.X, pl.dstW, pixelnet.BoardWidth)
	pl.dyMin, pl.dyMax = clip(p.Y, pl.dstH, pixelnet.BoardHeight)
	return pl, nil
}

// clip returns the range of destination offsets in [0,size) whose board
// coordinate start+d lies in [0,limit).
func clip(start, size, limit int) (lo, hi int) {
	lo = max(0, -start)
	hi = min(size, limit-start)
	if hi < lo {
		return 0, 0
	}
	return lo, hi
}

// Size returns the scaled footprint, before clipping.
func (p *Planner) Size() (width, height int) {
	return p.dstW, p.dstH
}

// Total returns the number of pixels that land on the board.
func (p *Planner) Total() int {
	return (p.dxMax - p.dxMin) * (p.dyMax - p.dyMin)
}

// BatchCount returns the number of batches Batches yields.
func (p *Planner) BatchCount() int {
	return (p.Total() + p.batchSize - 1) / p.batchSize
}

func (p *Planner) sample(dx, dy int) (r, g, b uint8) {
	sx := min(int(float64(dx)/p.scale), p.raster.Width-1)
	sy := min(int(float64(dy)/p.scale), p.raster.Height-1)
	off := (sy*p.raster.Width + sx) * 3
	return p.raster.Pix[off], p.raster.Pix[off+1], p.raster.Pix[off+2]
}

// Batches yields the visible pixels row by row, nearest-neighbor sampled,
// in batches of at most the batch size. Batches span row boundaries. Each
// yielded slice is freshly allocated.
func (p *Planner) Batches() iter.Seq[[]pixelnet.PixelEdit] {
	return func(yield func([]pixelnet.PixelEdit) bool) {
		batch := make([]pixelnet.PixelEdit, 0, p.batchSize)
		for dy := p.dyMin; dy < p.dyMax; dy++ {
			for dx := p.dxMin; dx < p.dxMax; dx++ {
				r, g, b := p.sample(dx, dy)
				batch = append(batch, pixelnet.PixelEdit{
					X: p.startX + dx,
					Y: p.startY + dy,
					R: r, G: g, B: b,
				})
				if len(batch) == p.batchSize {
					if !yield(batch) {
						return
					}
					batch = make([]pixelnet.PixelEdit, 0, p.batchSize)
				}
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}
