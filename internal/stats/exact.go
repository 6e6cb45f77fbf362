package stats

import (
	"context"
	"log"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ExactEstimator pools every valid value and takes linearly interpolated
// quantiles of the sorted population.
type ExactEstimator struct {
	Options
}

// Estimate implements Estimator.
func (e ExactEstimator) Estimate(ctx context.Context, src Source) (ValueRange, error) {
	opts := e.Options.withDefaults()
	if err := opts.Percentiles.Validate(); err != nil {
		return ValueRange{}, err
	}

	pooled, err := Pool(ctx, src, opts)
	if err != nil {
		return ValueRange{}, err
	}
	if len(pooled) == 0 {
		return ValueRange{}, ErrNoValidData
	}

	sort.Float64s(pooled)
	r := ValueRange{
		VMin: Quantile(pooled, opts.Percentiles.Low),
		VMax: Quantile(pooled, opts.Percentiles.High),
	}
	log.Printf("[Stats] %d valid pixels over %d scenes, p%g/p%g = %s",
		len(pooled), src.Len(), opts.Percentiles.Low, opts.Percentiles.High, r)
	return r, nil
}

// Quantile returns percentile p (0..100) of an ascending slice.
func Quantile(sorted []float64, p float64) float64 {
	return stat.Quantile(p/100, stat.LinInterp, sorted, nil)
}
