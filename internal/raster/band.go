// Package raster holds the in-memory raster model shared by the alignment,
// statistics and normalization stages.
package raster

import (
	"fmt"
	"math"
)

// Band is a single channel of float32 samples in row-major order.
type Band struct {
	Width  int
	Height int
	Data   []float32
}

// NewBand allocates a zeroed band.
func NewBand(width, height int) *Band {
	return &Band{Width: width, Height: height, Data: make([]float32, width*height)}
}

// NewFilledBand allocates a band with every sample set to v.
func NewFilledBand(width, height int, v float64) *Band {
	b := NewBand(width, height)
	b.Fill(v)
	return b
}

// At returns the sample at column x, row y.
func (b *Band) At(x, y int) float32 { return b.Data[y*b.Width+x] }

// Set stores v at column x, row y.
func (b *Band) Set(x, y int, v float32) { b.Data[y*b.Width+x] = v }

// Fill sets every sample to v.
func (b *Band) Fill(v float64) {
	f := float32(v)
	for i := range b.Data {
		b.Data[i] = f
	}
}

// Clone returns a deep copy.
func (b *Band) Clone() *Band {
	c := &Band{Width: b.Width, Height: b.Height, Data: make([]float32, len(b.Data))}
	copy(c.Data, b.Data)
	return c
}

// SameShape reports whether o has the same width and height.
func (b *Band) SameShape(o *Band) bool {
	return o != nil && b.Width == o.Width && b.Height == o.Height
}

// CheckShape returns an error when the band is not width x height.
func (b *Band) CheckShape(width, height int) error {
	if b.Width != width || b.Height != height {
		return fmt.Errorf("band is %dx%d, want %dx%d", b.Width, b.Height, width, height)
	}
	if len(b.Data) != width*height {
		return fmt.Errorf("band holds %d samples, want %d", len(b.Data), width*height)
	}
	return nil
}

// IsNoData reports whether v is the nodata value. NaN is always nodata.
func IsNoData(v float32, nodata float64) bool {
	if v != v {
		return true
	}
	if math.IsNaN(nodata) {
		return false
	}
	return float64(v) == float64(float32(nodata))
}

// ToDecibel converts linear backscatter to decibels in place. Zero and
// negative samples have no decibel value and become nodata.
func ToDecibel(b *Band, nodata float64) {
	nd := float32(nodata)
	for i, v := range b.Data {
		if IsNoData(v, nodata) {
			continue
		}
		if v <= 0 {
			b.Data[i] = nd
			continue
		}
		b.Data[i] = float32(10 * math.Log10(float64(v)))
	}
}

// IsLand classifies a landmask sample. Only an exact 0 marks ocean; any
// other value, NaN included, marks land.
func IsLand(v float32) bool {
	return v != 0
}
