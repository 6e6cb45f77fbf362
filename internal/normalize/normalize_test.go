package normalize

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/stats"
)

var nan = float32(math.NaN())

func mustNew(t *testing.T, vmin, vmax float64, mask *raster.Band) *Normalizer {
	t.Helper()
	n, err := New(stats.ValueRange{VMin: vmin, VMax: vmax}, math.NaN(), mask)
	require.NoError(t, err)
	return n
}

func TestDegenerateRange(t *testing.T) {
	for _, r := range []stats.ValueRange{{VMin: 0, VMax: 0}, {VMin: 5, VMax: 1}, {VMin: math.NaN(), VMax: 1}, {VMin: 0, VMax: math.Inf(1)}} {
		_, err := New(r, 0, nil)
		assert.ErrorIs(t, err, ErrDegenerateRange, "%v", r)
	}
}

func TestScaleEndpointsAndClip(t *testing.T) {
	n := mustNew(t, -25, 5, nil)
	assert.Equal(t, uint8(0), n.Scale(-25))
	assert.Equal(t, uint8(255), n.Scale(5))
	assert.Equal(t, uint8(0), n.Scale(-100))
	assert.Equal(t, uint8(255), n.Scale(100))
	// -10 sits at exactly half of the range: 127.5 rounds up
	assert.Equal(t, uint8(128), n.Scale(-10))
}

func TestScaleIsMonotonic(t *testing.T) {
	n := mustNew(t, 1.35, 998.65, nil)
	last := n.Scale(1.35)
	for v := 1.35; v <= 998.65; v += 0.37 {
		s := n.Scale(v)
		assert.GreaterOrEqual(t, s, last, "value %g", v)
		last = s
	}
}

func TestFirstFrameBootstrapsWithMedian(t *testing.T) {
	n := mustNew(t, 0, 100, nil)
	b := &raster.Band{Width: 3, Height: 2, Data: []float32{10, 20, nan, 40, 60, nan}}

	f, err := n.Normalize(b, nil)
	require.NoError(t, err)

	// median of 10,20,40,60 is 30 -> 76.5 -> 77
	require.NotNil(t, f.Bootstrap)
	assert.Equal(t, uint8(77), *f.Bootstrap)
	assert.Equal(t, 2, f.Filled)
	assert.Equal(t, []uint8{26, 51, 77, 102, 153, 77}, f.Image.Pix)
}

func TestFirstFrameWithoutValidPixels(t *testing.T) {
	n := mustNew(t, -10, 10, nil)
	b := &raster.Band{Width: 2, Height: 1, Data: []float32{nan, nan}}

	f, err := n.Normalize(b, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Warnings)
	// median falls back to 0, which scales to the middle of [-10, 10]
	assert.Equal(t, []uint8{128, 128}, f.Image.Pix)
}

func TestTemporalInheritance(t *testing.T) {
	n := mustNew(t, 0, 255, nil)
	prev := image.NewGray(image.Rect(0, 0, 3, 1))
	prev.Pix = []uint8{9, 8, 7}

	b := &raster.Band{Width: 3, Height: 1, Data: []float32{nan, 100, nan}}
	f, err := n.Normalize(b, prev)
	require.NoError(t, err)
	assert.Nil(t, f.Bootstrap)
	assert.Equal(t, []uint8{9, 100, 7}, f.Image.Pix)
}

func TestLandIsFilledAndExcludedFromMedian(t *testing.T) {
	mask := &raster.Band{Width: 4, Height: 1, Data: []float32{0, 0, 1, nan}}
	n := mustNew(t, 0, 100, mask)

	b := &raster.Band{Width: 4, Height: 1, Data: []float32{0, 100, 50, 50}}
	f, err := n.Normalize(b, nil)
	require.NoError(t, err)
	// ocean median is 50 -> 127.5 -> 128
	assert.Equal(t, []uint8{0, 255, 128, 128}, f.Image.Pix)
	assert.Equal(t, 2, f.Filled)
}

func TestFrameStateCarriesPreviousFrame(t *testing.T) {
	n := mustNew(t, 0, 255, nil)
	var st FrameState
	assert.Zero(t, st.Count())

	seq := [][]float32{
		{1, 2, 3, 4},
		{nan, 20, nan, 40},
		{100, nan, nan, nan},
	}
	var frames []*Frame
	for _, d := range seq {
		f, err := st.Next(n, &raster.Band{Width: 2, Height: 2, Data: d})
		require.NoError(t, err)
		frames = append(frames, f)
	}

	assert.Equal(t, 3, st.Count())
	assert.Same(t, frames[2].Image, st.prev)
	assert.Equal(t, []uint8{1, 20, 3, 40}, frames[1].Image.Pix)
	assert.Equal(t, []uint8{100, 20, 3, 40}, frames[2].Image.Pix)

	// every invalid pixel equals the previous output
	for i, v := range seq[2] {
		if v != v {
			assert.Equal(t, frames[1].Image.Pix[i], frames[2].Image.Pix[i])
		}
	}

	st.Reset()
	assert.Nil(t, st.prev)
	assert.Zero(t, st.Count())
}

func TestShapeMismatch(t *testing.T) {
	n := mustNew(t, 0, 1, &raster.Band{Width: 1, Height: 1, Data: []float32{0}})
	_, err := n.Normalize(raster.NewBand(2, 2), nil)
	assert.Error(t, err)

	n = mustNew(t, 0, 1, nil)
	_, err = n.Normalize(raster.NewBand(2, 2), image.NewGray(image.Rect(0, 0, 3, 3)))
	assert.Error(t, err)
}

func TestPNGRoundTrip(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.Pix = []uint8{0, 64, 128, 255}
	path := filepath.Join(t.TempDir(), "frame.png")

	require.NoError(t, WritePNG(path, img))
	got, err := ReadPNG(path)
	require.NoError(t, err)
	g, ok := got.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, img.Pix, g.Pix)
}
