package stats

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
)

func band(w, h int, vals ...float32) *raster.Band {
	return &raster.Band{Width: w, Height: h, Data: vals}
}

// oneToThousand splits 1..1000 across four 250-pixel scenes.
func oneToThousand() Bands {
	var out Bands
	for s := 0; s < 4; s++ {
		b := raster.NewBand(25, 10)
		for i := range b.Data {
			b.Data[i] = float32(s*250 + i + 1)
		}
		out = append(out, b)
	}
	return out
}

func TestExactEstimatorOneToThousand(t *testing.T) {
	r, err := ExactEstimator{Options{NoData: math.NaN()}}.Estimate(context.Background(), oneToThousand())
	require.NoError(t, err)
	assert.InDelta(t, 1.35, r.VMin, 1e-9)
	assert.InDelta(t, 998.65, r.VMax, 1e-9)
}

func TestExactEstimatorOrderInvariant(t *testing.T) {
	src := oneToThousand()
	want, err := ExactEstimator{Options{NoData: math.NaN(), Workers: 1}}.Estimate(context.Background(), src)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append(Bands(nil), src...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := ExactEstimator{Options{NoData: math.NaN(), Workers: 3}}.Estimate(context.Background(), shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestValidityMask(t *testing.T) {
	nan := float32(math.NaN())
	b := band(3, 2, 1, -9999, 3, nan, 5, 6)
	mask := band(3, 2, 0, 0, 1, 0, 0, nan)

	assert.Equal(t, []float64{1, 3, 5, 6}, ValidValues(b, -9999, nil))
	assert.Equal(t, []float64{1, 5}, ValidValues(b, -9999, mask))
}

func TestMaskedStatsUseOceanOnly(t *testing.T) {
	b := band(4, 1, 10, 20, 1000, 2000)
	mask := band(4, 1, 0, 0, 1, 1)

	r, err := ExactEstimator{Options{NoData: math.NaN(), Mask: mask, Percentiles: Percentiles{Low: 0, High: 100}}}.
		Estimate(context.Background(), Bands{b})
	require.NoError(t, err)
	assert.Equal(t, ValueRange{VMin: 10, VMax: 20}, r)
}

func TestMaskShapeMismatch(t *testing.T) {
	_, err := ExactEstimator{Options{Mask: raster.NewBand(2, 2)}}.
		Estimate(context.Background(), Bands{raster.NewBand(3, 3)})
	assert.ErrorContains(t, err, "landmask")
}

func TestNoValidData(t *testing.T) {
	nan := float32(math.NaN())
	src := Bands{band(2, 1, nan, nan), band(2, 1, -1, -1)}

	_, err := ExactEstimator{Options{NoData: -1}}.Estimate(context.Background(), src)
	assert.ErrorIs(t, err, ErrNoValidData)

	_, err = HistogramEstimator{Options: Options{NoData: -1}}.Estimate(context.Background(), src)
	assert.ErrorIs(t, err, ErrNoValidData)

	_, err = ExactEstimator{}.Estimate(context.Background(), Bands{})
	assert.ErrorIs(t, err, ErrNoValidData)
}

func TestInvalidPercentiles(t *testing.T) {
	_, err := ExactEstimator{Options{Percentiles: Percentiles{Low: 60, High: 40}}}.Estimate(context.Background(), oneToThousand())
	assert.Error(t, err)
	assert.Error(t, Percentiles{Low: -1, High: 50}.Validate())
	assert.NoError(t, DefaultPercentiles.Validate())
}

type failingSource struct{ Bands }

func (f failingSource) Load(ctx context.Context, i int) (*raster.Band, error) {
	if i == 2 {
		return nil, errors.New("read error")
	}
	return f.Bands.Load(ctx, i)
}

func TestLoadErrorNamesScene(t *testing.T) {
	_, err := ExactEstimator{Options{NoData: math.NaN()}}.Estimate(context.Background(), failingSource{oneToThousand()})
	assert.ErrorContains(t, err, "scene 2")
}

func TestFileErrorsNameThePath(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "S1A_IW_GRDH_1SDV_20210301T053012_a.tif")
	g := grid.Grid{OriginX: 0, OriginY: 30, Resolution: 10, Width: 3, Height: 3}
	require.NoError(t, raster.WriteAligned(good, raster.NewFilledBand(3, 3, 1), g, math.NaN(), 0))
	missing := filepath.Join(dir, "S1A_IW_GRDH_1SDV_20210305T053012_b.tif")

	_, err := ExactEstimator{Options{NoData: math.NaN()}}.Estimate(context.Background(), Files{Paths: []string{good, missing}})
	assert.ErrorContains(t, err, missing)

	_, err = ExactEstimator{Options{NoData: math.NaN(), Mask: raster.NewBand(2, 2)}}.
		Estimate(context.Background(), Files{Paths: []string{good}})
	assert.ErrorContains(t, err, good)
	assert.ErrorContains(t, err, "landmask is 2x2 but scene is 3x3")
}

func TestHistogramEstimatorTracksExact(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var src Bands
	for s := 0; s < 6; s++ {
		b := raster.NewBand(100, 100)
		for i := range b.Data {
			b.Data[i] = float32(rng.NormFloat64()*3 - 15)
		}
		src = append(src, b)
	}
	opts := Options{NoData: math.NaN()}

	exact, err := ExactEstimator{opts}.Estimate(context.Background(), src)
	require.NoError(t, err)

	h := HistogramEstimator{Options: opts}
	hist, err := h.Build(context.Background(), src)
	require.NoError(t, err)
	assert.EqualValues(t, 60000, hist.Total)

	approx, err := h.Estimate(context.Background(), src)
	require.NoError(t, err)
	assert.InDelta(t, exact.VMin, approx.VMin, 2*hist.Width())
	assert.InDelta(t, exact.VMax, approx.VMax, 2*hist.Width())
}

func TestHistogramConstantSeries(t *testing.T) {
	src := Bands{raster.NewFilledBand(3, 3, 4), raster.NewFilledBand(3, 3, 4)}
	r, err := HistogramEstimator{Bins: 16}.Estimate(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, ValueRange{VMin: 4, VMax: 4}, r)
}

func TestFilesSource(t *testing.T) {
	dir := t.TempDir()
	g := grid.Grid{OriginX: 0, OriginY: 20, Resolution: 10, Width: 2, Height: 2}
	var paths []string
	for i, vals := range [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}} {
		p := filepath.Join(dir, "aligned_"+string(rune('a'+i))+".tif")
		require.NoError(t, raster.WriteAligned(p, &raster.Band{Width: 2, Height: 2, Data: vals}, g, math.NaN(), 32633))
		paths = append(paths, p)
	}

	r, err := ExactEstimator{Options{NoData: math.NaN(), Percentiles: Percentiles{Low: 0, High: 100}}}.
		Estimate(context.Background(), Files{Paths: paths})
	require.NoError(t, err)
	assert.Equal(t, ValueRange{VMin: 1, VMax: 8}, r)
}

func TestPlotHistogram(t *testing.T) {
	out := filepath.Join(t.TempDir(), "hist.png")
	require.NoError(t, PlotHistogram(context.Background(), oneToThousand(), Options{NoData: math.NaN()}, 50, out))

	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
}
