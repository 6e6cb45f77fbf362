// Package normalize turns aligned float rasters into 8-bit frames with a
// fixed scaling law and fills invalid pixels from the previous frame.
package normalize

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"math"
	"os"
	"sort"

	"sar-timelapse/internal/raster"
	"sar-timelapse/internal/stats"
)

// ErrDegenerateRange is returned when vmax does not exceed vmin.
var ErrDegenerateRange = errors.New("degenerate value range")

// Normalizer maps values in [VMin, VMax] linearly onto 0..255. It holds no
// per-frame state.
type Normalizer struct {
	rng    stats.ValueRange
	nodata float64
	mask   *raster.Band
}

// New validates the range and returns a Normalizer. mask may be nil.
func New(rng stats.ValueRange, nodata float64, mask *raster.Band) (*Normalizer, error) {
	if !(rng.VMax > rng.VMin) || math.IsInf(rng.VMin, 0) || math.IsInf(rng.VMax, 0) {
		return nil, fmt.Errorf("%w: vmin=%g vmax=%g", ErrDegenerateRange, rng.VMin, rng.VMax)
	}
	return &Normalizer{rng: rng, nodata: nodata, mask: mask}, nil
}

// Range returns the scaling range.
func (n *Normalizer) Range() stats.ValueRange { return n.rng }

// Scale clips v to the range and maps it to the nearest byte.
func (n *Normalizer) Scale(v float64) uint8 {
	v = math.Max(n.rng.VMin, math.Min(n.rng.VMax, v))
	s := math.Round((v - n.rng.VMin) / (n.rng.VMax - n.rng.VMin) * 255)
	return uint8(math.Max(0, math.Min(255, s)))
}

// Invalid reports whether pixel i is nodata or land.
func (n *Normalizer) Invalid(b *raster.Band, i int) bool {
	return !stats.Valid(b, i, n.nodata, n.mask)
}

// Frame is the result of normalizing one raster.
type Frame struct {
	Image *image.Gray

	// Filled counts invalid pixels taken from the previous frame or the
	// bootstrap value.
	Filled int

	// Bootstrap is the fill byte used on the first frame.
	Bootstrap *uint8

	Warnings []string
}

// Normalize converts b into a frame. Invalid pixels copy prev at the same
// position; when prev is nil they get the scaled median of the frame's own
// valid pixels.
func (n *Normalizer) Normalize(b *raster.Band, prev *image.Gray) (*Frame, error) {
	if err := b.CheckShape(b.Width, b.Height); err != nil {
		return nil, err
	}
	if n.mask != nil && !b.SameShape(n.mask) {
		return nil, fmt.Errorf("landmask is %dx%d but raster is %dx%d", n.mask.Width, n.mask.Height, b.Width, b.Height)
	}
	if prev != nil {
		if sz := prev.Bounds().Size(); sz.X != b.Width || sz.Y != b.Height {
			return nil, fmt.Errorf("previous frame is %dx%d but raster is %dx%d", sz.X, sz.Y, b.Width, b.Height)
		}
	}

	img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	f := &Frame{Image: img}

	var fill uint8
	if prev == nil {
		m, ok := n.median(b)
		if !ok {
			f.Warnings = append(f.Warnings, "first frame has no valid pixels; invalid area filled from 0")
			log.Printf("[Normalize] Warning: first frame has no valid ocean pixels, bootstrap fill uses 0")
		}
		fill = n.Scale(m)
		f.Bootstrap = &fill
	}

	for y := 0; y < b.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Width]
		for x := range row {
			i := y*b.Width + x
			if !n.Invalid(b, i) {
				row[x] = n.Scale(float64(b.Data[i]))
				continue
			}
			f.Filled++
			if prev != nil {
				row[x] = prev.Pix[prev.PixOffset(prev.Rect.Min.X+x, prev.Rect.Min.Y+y)]
			} else {
				row[x] = fill
			}
		}
	}
	return f, nil
}

// median of the valid raw values; false when there are none.
func (n *Normalizer) median(b *raster.Band) (float64, bool) {
	vals := stats.ValidValues(b, n.nodata, n.mask)
	if len(vals) == 0 {
		return 0, false
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[mid-1] + vals[mid]) / 2, true
	}
	return vals[mid], true
}

// FrameState carries the previous output across the sequential
// normalization loop. The zero value is ready to use; it must not be shared
// between goroutines.
type FrameState struct {
	prev *image.Gray
	n    int
}

// Count is the number of frames produced so far.
func (s *FrameState) Count() int { return s.n }

// Next normalizes b against the previous frame and makes the result the new
// previous frame.
func (s *FrameState) Next(n *Normalizer, b *raster.Band) (*Frame, error) {
	f, err := n.Normalize(b, s.prev)
	if err != nil {
		return nil, err
	}
	s.prev = f.Image
	s.n++
	return f, nil
}

// Reset discards the carried frame.
func (s *FrameState) Reset() {
	s.prev = nil
	s.n = 0
}

// WritePNG encodes a frame to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// ReadPNG decodes a frame written by WritePNG.
func ReadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
