package raster

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar-timelapse/internal/grid"
)

func TestIsNoData(t *testing.T) {
	nan := float32(math.NaN())

	assert.True(t, IsNoData(nan, math.NaN()))
	assert.True(t, IsNoData(nan, -9999))
	assert.False(t, IsNoData(0, math.NaN()))
	assert.True(t, IsNoData(-9999, -9999))
	assert.False(t, IsNoData(-9998, -9999))
	assert.True(t, IsNoData(float32(0.1), 0.1))
}

func TestIsLand(t *testing.T) {
	assert.False(t, IsLand(0))
	assert.True(t, IsLand(1))
	assert.True(t, IsLand(float32(math.NaN())))
}

func TestToDecibel(t *testing.T) {
	b := &Band{Width: 4, Height: 1, Data: []float32{1, 100, 0, float32(math.NaN())}}
	ToDecibel(b, math.NaN())

	assert.InDelta(t, 0, b.Data[0], 1e-6)
	assert.InDelta(t, 20, b.Data[1], 1e-5)
	assert.True(t, math.IsNaN(float64(b.Data[2])))
	assert.True(t, math.IsNaN(float64(b.Data[3])))
}

func TestBandHelpers(t *testing.T) {
	b := NewFilledBand(3, 2, 7)
	assert.Equal(t, float32(7), b.At(2, 1))

	b.Set(1, 1, 3)
	c := b.Clone()
	c.Set(1, 1, 9)
	assert.Equal(t, float32(3), b.At(1, 1))
	assert.True(t, b.SameShape(c))
	assert.NoError(t, b.CheckShape(3, 2))
	assert.Error(t, b.CheckShape(2, 3))
}

func TestWriteAlignedAndOpen(t *testing.T) {
	g := grid.Grid{OriginX: -20, OriginY: 150, Resolution: 10, Width: 3, Height: 2}
	b := &Band{Width: 3, Height: 2, Data: []float32{1, 2, 3, 4, 5, float32(math.NaN())}}
	path := filepath.Join(t.TempDir(), "aligned", "scene.tif")

	require.NoError(t, WriteAligned(path, b, g, math.NaN(), 32631))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, "scene.tif", h.Name)
	assert.Equal(t, grid.SceneBounds{Left: -20, Bottom: 130, Right: 10, Top: 150}, h.Bounds)
	assert.Equal(t, 10.0, h.ResX)
	assert.Equal(t, 10.0, h.ResY)
	assert.Equal(t, 1, h.BandCount)
	assert.Equal(t, 32631, h.EPSG)
	assert.True(t, h.HasNoData)

	got, hdr, err := ReadBand(path, 1)
	require.NoError(t, err)
	assert.Equal(t, h.Bounds, hdr.Bounds)
	assert.True(t, math.IsNaN(hdr.SourceNoData(0)))
	assert.Equal(t, b.Data[:5], got.Data[:5])
	assert.True(t, math.IsNaN(float64(got.Data[5])))

	_, _, err = ReadBand(path, 2)
	assert.Error(t, err)
}

func TestWriteAlignedRejectsWrongShape(t *testing.T) {
	g := grid.Grid{Resolution: 1, Width: 4, Height: 4}
	err := WriteAligned(filepath.Join(t.TempDir(), "x.tif"), NewBand(2, 2), g, 0, 0)
	assert.Error(t, err)
}

func TestWriteFrameIsGeoreferenced(t *testing.T) {
	g := grid.Grid{OriginX: 500, OriginY: 900, Resolution: 20, Width: 3, Height: 2}
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	copy(img.Pix, []uint8{0, 50, 100, 150, 200, 255})
	path := filepath.Join(t.TempDir(), "frames", "scene_8bit.tif")

	require.NoError(t, WriteFrame(path, img, g, 32633))

	got, h, err := ReadBand(path, 1)
	require.NoError(t, err)
	assert.Equal(t, grid.SceneBounds{Left: 500, Bottom: 860, Right: 560, Top: 900}, h.Bounds)
	assert.Equal(t, 32633, h.EPSG)
	assert.Equal(t, []float32{0, 50, 100, 150, 200, 255}, got.Data)

	assert.Error(t, WriteFrame(path, image.NewGray(image.Rect(0, 0, 2, 2)), g, 0))
}

func TestParseNoData(t *testing.T) {
	v, err := ParseNoData("nan")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))

	v, err = ParseNoData("")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))

	v, err = ParseNoData("-9999")
	require.NoError(t, err)
	assert.Equal(t, -9999.0, v)

	_, err = ParseNoData("abc")
	assert.Error(t, err)
}
