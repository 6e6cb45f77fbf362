// Package align places every scene on the shared grid, either by exact pixel
// copy when the scene already sits on the grid or by resampling.
package align

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/warp"
)

// DefaultTolerance is the pixel-fraction slack accepted when deciding a
// scene is already aligned with the grid.
const DefaultTolerance = 1e-6

// ErrResolutionMismatch is returned by exact mode for scenes whose pixel
// size differs from the grid resolution.
var ErrResolutionMismatch = errors.New("scene resolution differs from grid")

// Strategy names the path a scene took through the aligner.
type Strategy string

const (
	StrategyCopy     Strategy = "copy"
	StrategyResample Strategy = "resample"
)

// Options configures an Aligner.
type Options struct {
	Mode      warp.Mode
	NoData    float64
	Tolerance float64

	// Warper handles the resample path; defaults to the in-process Resampler
	Warper warp.Warper
}

// Scene is one source band with its georeferencing.
type Scene struct {
	Header    raster.Header
	Band      *raster.Band
	Channel   int
	SrcNoData float64
}

// Result is an AlignedRaster plus what happened while producing it.
type Result struct {
	Band        *raster.Band
	Strategy    Strategy
	OutOfExtent bool
	Warnings    []string
}

// Aligner maps scenes onto one immutable grid. It holds no per-scene
// state and may be shared by concurrent workers.
type Aligner struct {
	grid grid.Grid
	opts Options
}

// New creates an Aligner for g.
func New(g grid.Grid, opts Options) *Aligner {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Mode == "" {
		opts.Mode = warp.Cubic
	}
	if opts.Warper == nil {
		opts.Warper = warp.Resampler{}
	}
	return &Aligner{grid: g, opts: opts}
}

// Grid returns the target grid.
func (a *Aligner) Grid() grid.Grid { return a.grid }

// Offsets returns the integer pixel offset of the scene's top-left corner
// on the grid and whether it falls on a grid line within tolerance.
func (a *Aligner) Offsets(h raster.Header) (col, row int, aligned bool) {
	fc := (h.Bounds.Left - a.grid.OriginX) / a.grid.Resolution
	fr := (a.grid.OriginY - h.Bounds.Top) / a.grid.Resolution
	rc, rr := math.Round(fc), math.Round(fr)
	aligned = math.Abs(fc-rc) <= a.opts.Tolerance && math.Abs(fr-rr) <= a.opts.Tolerance
	return int(rc), int(rr), aligned
}

// SameResolution reports whether the scene's pixel size matches the grid.
func (a *Aligner) SameResolution(h raster.Header) bool {
	tol := a.opts.Tolerance * a.grid.Resolution
	return math.Abs(h.ResX-a.grid.Resolution) <= tol && math.Abs(h.ResY-a.grid.Resolution) <= tol
}

// Align produces a band of exactly grid.Height x grid.Width for one scene.
func (a *Aligner) Align(ctx context.Context, s Scene) (*Result, error) {
	h := s.Header
	if s.Band == nil {
		return nil, fmt.Errorf("%s: no band data", h.Name)
	}
	if err := s.Band.CheckShape(h.Width, h.Height); err != nil {
		return nil, fmt.Errorf("%s: %w", h.Name, err)
	}

	res := &Result{}
	if !h.Bounds.Intersects(a.grid.Bounds()) {
		res.OutOfExtent = true
		msg := fmt.Sprintf("%s lies outside the grid extent; frame will be all nodata", h.Name)
		res.Warnings = append(res.Warnings, msg)
		log.Printf("[Align] Warning: %s", msg)
	}

	sameRes := a.SameResolution(h)
	col, row, aligned := a.Offsets(h)

	switch {
	case a.opts.Mode == warp.Exact:
		if !sameRes {
			return nil, fmt.Errorf("%s: %w (%gx%g vs %g)", h.Name, ErrResolutionMismatch, h.ResX, h.ResY, a.grid.Resolution)
		}
		if !aligned {
			msg := fmt.Sprintf("%s is not on a grid line; offsets rounded to (%d, %d)", h.Name, col, row)
			res.Warnings = append(res.Warnings, msg)
			log.Printf("[Align] Warning: %s", msg)
		}
		res.Band = CopyInto(s.Band, s.SrcNoData, col, row, a.grid.Width, a.grid.Height, a.opts.NoData)
		res.Strategy = StrategyCopy

	case sameRes && aligned:
		res.Band = CopyInto(s.Band, s.SrcNoData, col, row, a.grid.Width, a.grid.Height, a.opts.NoData)
		res.Strategy = StrategyCopy

	default:
		out, err := a.opts.Warper.Warp(ctx, warp.Request{
			Path:      h.Path,
			Channel:   s.Channel,
			Header:    h,
			Band:      s.Band,
			SrcNoData: s.SrcNoData,
		}, a.grid, a.opts.Mode, a.opts.NoData)
		if err != nil {
			return nil, fmt.Errorf("%s: resample failed: %w", h.Name, err)
		}
		if err := out.CheckShape(a.grid.Width, a.grid.Height); err != nil {
			return nil, fmt.Errorf("%s: %w", h.Name, err)
		}
		res.Band = out
		res.Strategy = StrategyResample
	}

	return res, nil
}

// CopyInto places src with its top-left pixel at (colOff, rowOff) on a
// width x height canvas prefilled with nodata. Source nodata samples are
// written as the destination nodata; everything else is copied bit-exact.
func CopyInto(src *raster.Band, srcNoData float64, colOff, rowOff, width, height int, nodata float64) *raster.Band {
	dst := raster.NewFilledBand(width, height, nodata)
	nd := float32(nodata)

	x0 := max(colOff, 0)
	y0 := max(rowOff, 0)
	x1 := min(colOff+src.Width, width)
	y1 := min(rowOff+src.Height, height)
	if x0 >= x1 || y0 >= y1 {
		return dst
	}

	for y := y0; y < y1; y++ {
		srow := src.Data[(y-rowOff)*src.Width:]
		drow := dst.Data[y*width:]
		for x := x0; x < x1; x++ {
			v := srow[x-colOff]
			if raster.IsNoData(v, srcNoData) {
				v = nd
			}
			drow[x] = v
		}
	}
	return dst
}
