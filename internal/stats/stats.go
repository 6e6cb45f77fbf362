// Package stats derives the series-wide value range used to scale every
// frame of a timelapse the same way.
package stats

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"sar-timelapse/internal/raster"
)

// ErrNoValidData is returned when no pixel of any scene passes the validity mask.
var ErrNoValidData = errors.New("no valid pixels in series")

// ValueRange is the global clip range mapped onto 0..255.
type ValueRange struct {
	VMin float64 `json:"vmin" yaml:"vmin"`
	VMax float64 `json:"vmax" yaml:"vmax"`
}

func (r ValueRange) String() string {
	return fmt.Sprintf("[%g, %g]", r.VMin, r.VMax)
}

// Percentiles are the clip bounds in percent.
type Percentiles struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// DefaultPercentiles clip at roughly +-3 sigma of a normal distribution.
var DefaultPercentiles = Percentiles{Low: 0.135, High: 99.865}

// SigmaPercentiles mark +-1, 2 and 3 sigma on histogram plots.
var SigmaPercentiles = []float64{0.135, 2.275, 15.865, 84.135, 97.725, 99.865}

// Validate checks 0 <= Low < High <= 100.
func (p Percentiles) Validate() error {
	if p.Low < 0 || p.High > 100 || !(p.Low < p.High) {
		return fmt.Errorf("invalid percentile bounds %g/%g", p.Low, p.High)
	}
	return nil
}

// Source yields aligned bands by index and may be iterated more than once.
type Source interface {
	Len() int
	Load(ctx context.Context, i int) (*raster.Band, error)

	// Name identifies scene i in errors
	Name(i int) string
}

// Bands is an in-memory Source.
type Bands []*raster.Band

func (b Bands) Len() int { return len(b) }

func (b Bands) Load(_ context.Context, i int) (*raster.Band, error) { return b[i], nil }

func (b Bands) Name(i int) string { return fmt.Sprintf("scene %d", i) }

// Files is a Source reading one channel of each GeoTIFF on demand, so only
// the bands currently being scanned are held in memory.
type Files struct {
	Paths   []string
	Channel int
}

func (f Files) Len() int { return len(f.Paths) }

func (f Files) Name(i int) string { return f.Paths[i] }

func (f Files) Load(_ context.Context, i int) (*raster.Band, error) {
	ch := f.Channel
	if ch == 0 {
		ch = 1
	}
	b, _, err := raster.ReadBand(f.Paths[i], ch)
	return b, err
}

// Options are shared by the estimators.
type Options struct {
	NoData      float64
	Mask        *raster.Band
	Percentiles Percentiles
	Workers     int
}

func (o Options) withDefaults() Options {
	if o.Percentiles == (Percentiles{}) {
		o.Percentiles = DefaultPercentiles
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Estimator computes a ValueRange over a whole series.
type Estimator interface {
	Estimate(ctx context.Context, src Source) (ValueRange, error)
}

// Valid reports whether pixel i of b counts towards the statistics: not
// nodata, and ocean when a landmask is given.
func Valid(b *raster.Band, i int, nodata float64, mask *raster.Band) bool {
	if raster.IsNoData(b.Data[i], nodata) {
		return false
	}
	return mask == nil || !raster.IsLand(mask.Data[i])
}

// ValidValues returns the valid samples of b.
func ValidValues(b *raster.Band, nodata float64, mask *raster.Band) []float64 {
	out := make([]float64, 0, len(b.Data))
	for i, v := range b.Data {
		if Valid(b, i, nodata, mask) {
			out = append(out, float64(v))
		}
	}
	return out
}

func checkMask(b, mask *raster.Band) error {
	if mask == nil {
		return nil
	}
	if !b.SameShape(mask) {
		return fmt.Errorf("landmask is %dx%d but scene is %dx%d", mask.Width, mask.Height, b.Width, b.Height)
	}
	return nil
}

// scan loads every scene on a bounded pool and hands it to fn together with
// its index. The first failure cancels the remaining loads.
func scan(ctx context.Context, src Source, opts Options, fn func(i int, b *raster.Band) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < src.Len(); i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := src.Load(ctx, i)
			if err != nil {
				return fmt.Errorf("%s: %w", src.Name(i), err)
			}
			if err := checkMask(b, opts.Mask); err != nil {
				return fmt.Errorf("%s: %w", src.Name(i), err)
			}
			return fn(i, b)
		})
	}
	return g.Wait()
}

// Pool gathers every valid value of the series. Per-scene slots keep the
// result independent of scheduling.
func Pool(ctx context.Context, src Source, opts Options) ([]float64, error) {
	opts = opts.withDefaults()
	slots := make([][]float64, src.Len())
	err := scan(ctx, src, opts, func(i int, b *raster.Band) error {
		slots[i] = ValidValues(b, opts.NoData, opts.Mask)
		return nil
	})
	if err != nil {
		return nil, err
	}

	n := 0
	for _, s := range slots {
		n += len(s)
	}
	pooled := make([]float64, 0, n)
	for _, s := range slots {
		pooled = append(pooled, s...)
	}
	return pooled, nil
}
