package align

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/warp"
)

func makeScene(name string, left, top, res float64, w, h int, fill func(i int) float32) Scene {
	data := make([]float32, w*h)
	for i := range data {
		data[i] = fill(i)
	}
	return Scene{
		Header: raster.Header{
			Name:   name,
			Bounds: grid.SceneBounds{Left: left, Bottom: top - float64(h)*res, Right: left + float64(w)*res, Top: top},
			ResX:   res,
			ResY:   res,
			Width:  w,
			Height: h,
		},
		Band:      &raster.Band{Width: w, Height: h, Data: data},
		Channel:   1,
		SrcNoData: math.NaN(),
	}
}

func index(i int) float32 { return float32(i + 1) }

type countingWarper struct {
	calls int
	err   error
}

func (c *countingWarper) Warp(ctx context.Context, req warp.Request, g grid.Grid, mode warp.Mode, nodata float64) (*raster.Band, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return raster.NewFilledBand(g.Width, g.Height, 42), nil
}

func TestAlignShapesMatchGrid(t *testing.T) {
	scenes := []Scene{
		makeScene("a", 0, 100, 10, 10, 10, index),
		makeScene("b", 50, 150, 10, 10, 10, index),
		makeScene("c", -20, 80, 10, 10, 10, index),
		makeScene("d", 3, 97, 7, 5, 5, index),
	}
	var bounds []grid.SceneBounds
	for _, s := range scenes {
		bounds = append(bounds, s.Header.Bounds)
	}
	g, err := grid.Build(bounds, 10)
	require.NoError(t, err)

	a := New(g, Options{Mode: warp.Bilinear, NoData: math.NaN()})
	for _, s := range scenes {
		res, err := a.Align(context.Background(), s)
		require.NoError(t, err, s.Header.Name)
		assert.Equal(t, g.Width, res.Band.Width)
		assert.Equal(t, g.Height, res.Band.Height)
		assert.Len(t, res.Band.Data, g.Pixels())
	}
}

func TestAlignExactCopyOffsets(t *testing.T) {
	g := grid.Grid{OriginX: -20, OriginY: 150, Resolution: 10, Width: 17, Height: 17}
	s := makeScene("b", 50, 150, 10, 10, 10, index)

	w := &countingWarper{}
	a := New(g, Options{Mode: warp.Cubic, NoData: -9999, Warper: w})
	res, err := a.Align(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StrategyCopy, res.Strategy)
	assert.Zero(t, w.calls)
	assert.Equal(t, float32(-9999), res.Band.At(6, 0))
	assert.Equal(t, float32(1), res.Band.At(7, 0))
	assert.Equal(t, float32(10), res.Band.At(16, 0))
	assert.Equal(t, float32(100), res.Band.At(16, 9))
	assert.Equal(t, float32(-9999), res.Band.At(7, 10))
}

func TestAlignExactCopyIsIdempotent(t *testing.T) {
	nan := float32(math.NaN())
	s := makeScene("s", 0, 40, 10, 4, 4, func(i int) float32 {
		if i%5 == 0 {
			return nan
		}
		return float32(i) * 1.25
	})
	g, err := grid.Build([]grid.SceneBounds{s.Header.Bounds}, 10)
	require.NoError(t, err)

	a := New(g, Options{Mode: warp.Exact, NoData: math.NaN()})
	first, err := a.Align(context.Background(), s)
	require.NoError(t, err)

	again := s
	again.Band = first.Band
	second, err := a.Align(context.Background(), again)
	require.NoError(t, err)

	for i := range s.Band.Data {
		assert.Equal(t, math.Float32bits(first.Band.Data[i]), math.Float32bits(second.Band.Data[i]), "pixel %d", i)
		if s.Band.Data[i] == s.Band.Data[i] {
			assert.Equal(t, s.Band.Data[i], first.Band.Data[i])
		}
	}
}

func TestAlignResamplesWhenResolutionDiffers(t *testing.T) {
	g := grid.Grid{OriginX: 0, OriginY: 100, Resolution: 10, Width: 10, Height: 10}
	s := makeScene("fine", 0, 100, 5, 20, 20, index)

	w := &countingWarper{}
	a := New(g, Options{Mode: warp.Lanczos, NoData: 0, Warper: w})
	res, err := a.Align(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StrategyResample, res.Strategy)
	assert.Equal(t, 1, w.calls)
}

func TestAlignResamplesWhenMisaligned(t *testing.T) {
	g := grid.Grid{OriginX: 0, OriginY: 100, Resolution: 10, Width: 10, Height: 10}
	s := makeScene("shifted", 2.5, 100, 10, 5, 5, index)

	w := &countingWarper{}
	res, err := New(g, Options{Mode: warp.Nearest, Warper: w}).Align(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StrategyResample, res.Strategy)
	assert.Equal(t, 1, w.calls)
}

func TestAlignExactModeRejectsResolutionMismatch(t *testing.T) {
	g := grid.Grid{OriginX: 0, OriginY: 100, Resolution: 10, Width: 10, Height: 10}
	s := makeScene("S1A_bad.tif", 0, 100, 20, 5, 5, index)

	_, err := New(g, Options{Mode: warp.Exact}).Align(context.Background(), s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolutionMismatch)
	assert.Contains(t, err.Error(), "S1A_bad.tif")
}

func TestAlignExactModeRoundsSubPixelOffsets(t *testing.T) {
	g := grid.Grid{OriginX: 0, OriginY: 100, Resolution: 10, Width: 10, Height: 10}
	s := makeScene("drift", 10.3, 100, 10, 2, 2, index)

	res, err := New(g, Options{Mode: warp.Exact, NoData: 0}).Align(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, float32(1), res.Band.At(1, 0))
	assert.Equal(t, float32(4), res.Band.At(2, 1))
}

func TestAlignOutOfExtent(t *testing.T) {
	g := grid.Grid{OriginX: 0, OriginY: 100, Resolution: 10, Width: 10, Height: 10}
	s := makeScene("far", 1000, 1000, 10, 3, 3, index)

	res, err := New(g, Options{Mode: warp.Exact, NoData: -1}).Align(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.OutOfExtent)
	assert.NotEmpty(t, res.Warnings)
	for _, v := range res.Band.Data {
		assert.Equal(t, float32(-1), v)
	}
}

func TestAlignWarperErrorNamesScene(t *testing.T) {
	g := grid.Grid{OriginX: 0, OriginY: 100, Resolution: 10, Width: 10, Height: 10}
	s := makeScene("broken.tif", 0, 100, 3, 5, 5, index)
	boom := errors.New("boom")

	_, err := New(g, Options{Mode: warp.Cubic, Warper: &countingWarper{err: boom}}).Align(context.Background(), s)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken.tif")
}

func TestCopyIntoTranslatesNoData(t *testing.T) {
	src := &raster.Band{Width: 2, Height: 1, Data: []float32{-5, 7}}
	dst := CopyInto(src, -5, -1, 0, 2, 1, math.NaN())
	assert.Equal(t, float32(7), dst.Data[0])
	assert.True(t, math.IsNaN(float64(dst.Data[1])))

	dst = CopyInto(src, -5, 0, 0, 2, 1, 0)
	assert.Equal(t, []float32{0, 7}, dst.Data)
}
