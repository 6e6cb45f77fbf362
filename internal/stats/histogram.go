package stats

import (
	"context"
	"log"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"sar-timelapse/internal/raster"
)

// DefaultBins is the HistogramEstimator resolution.
const DefaultBins = 4096

// HistogramEstimator approximates the percentiles in two streaming passes,
// min/max first and then fixed-width bin counts, so memory stays bounded by
// the bin count instead of the pooled pixel count. On dense data the result
// stays within about one bin width of ExactEstimator.
type HistogramEstimator struct {
	Options
	Bins int
}

// Histogram is a fixed-width histogram over [Min, Max].
type Histogram struct {
	Min    float64
	Max    float64
	Counts []int64
	Total  int64
}

// Width is the width of one bin.
func (h *Histogram) Width() float64 {
	return (h.Max - h.Min) / float64(len(h.Counts))
}

func (h *Histogram) bin(v float64) int {
	if h.Max == h.Min {
		return 0
	}
	k := int((v - h.Min) / h.Width())
	if k >= len(h.Counts) {
		k = len(h.Counts) - 1
	}
	if k < 0 {
		k = 0
	}
	return k
}

// Quantile returns the interpolated percentile p (0..100).
func (h *Histogram) Quantile(p float64) float64 {
	if h.Max == h.Min || h.Total == 0 {
		return h.Min
	}
	rank := p / 100 * float64(h.Total)
	var cum float64
	for k, c := range h.Counts {
		if c == 0 {
			continue
		}
		next := cum + float64(c)
		if next >= rank {
			frac := (rank - cum) / float64(c)
			v := h.Min + (float64(k)+frac)*h.Width()
			return math.Max(h.Min, math.Min(h.Max, v))
		}
		cum = next
	}
	return h.Max
}

// Build runs both passes over src.
func (e HistogramEstimator) Build(ctx context.Context, src Source) (*Histogram, error) {
	opts := e.Options.withDefaults()
	bins := e.Bins
	if bins <= 0 {
		bins = DefaultBins
	}

	var mu sync.Mutex
	lo, hi := math.Inf(1), math.Inf(-1)
	err := scan(ctx, src, opts, func(_ int, b *raster.Band) error {
		vals := ValidValues(b, opts.NoData, opts.Mask)
		if len(vals) == 0 {
			return nil
		}
		l, h := floats.Min(vals), floats.Max(vals)
		mu.Lock()
		lo, hi = math.Min(lo, l), math.Max(hi, h)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, ErrNoValidData
	}

	hist := &Histogram{Min: lo, Max: hi, Counts: make([]int64, bins)}
	err = scan(ctx, src, opts, func(_ int, b *raster.Band) error {
		local := make([]int64, bins)
		var n int64
		for i, v := range b.Data {
			if !Valid(b, i, opts.NoData, opts.Mask) {
				continue
			}
			local[hist.bin(float64(v))]++
			n++
		}
		mu.Lock()
		for k, c := range local {
			hist.Counts[k] += c
		}
		hist.Total += n
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hist.Total == 0 {
		return nil, ErrNoValidData
	}
	return hist, nil
}

// Estimate implements Estimator.
func (e HistogramEstimator) Estimate(ctx context.Context, src Source) (ValueRange, error) {
	opts := e.Options.withDefaults()
	if err := opts.Percentiles.Validate(); err != nil {
		return ValueRange{}, err
	}
	hist, err := e.Build(ctx, src)
	if err != nil {
		return ValueRange{}, err
	}
	r := ValueRange{
		VMin: hist.Quantile(opts.Percentiles.Low),
		VMax: hist.Quantile(opts.Percentiles.High),
	}
	log.Printf("[Stats] histogram of %d valid pixels (%d bins over [%g, %g]), p%g/p%g = %s",
		hist.Total, len(hist.Counts), hist.Min, hist.Max, opts.Percentiles.Low, opts.Percentiles.High, r)
	return r, nil
}
