// Package grid builds the shared pixel grid every scene in a batch is aligned onto.
package grid

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyInput is returned when no scene bounds are supplied.
	ErrEmptyInput = errors.New("no scenes to build a grid from")

	// ErrInvalidResolution is returned for zero, negative or non-finite resolutions.
	ErrInvalidResolution = errors.New("resolution must be positive")
)

// snapTolerance absorbs float noise when a coordinate is already on a grid line.
const snapTolerance = 1e-9

// SceneBounds is the native extent of one scene in map units.
type SceneBounds struct {
	Left   float64 `json:"left" yaml:"left"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
	Right  float64 `json:"right" yaml:"right"`
	Top    float64 `json:"top" yaml:"top"`
}

// Width returns the horizontal extent in map units.
func (b SceneBounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent in map units.
func (b SceneBounds) Height() float64 { return b.Top - b.Bottom }

// Validate checks that the bounds describe a non-empty, finite rectangle.
func (b SceneBounds) Validate() error {
	for _, v := range []float64{b.Left, b.Bottom, b.Right, b.Top} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bounds %v are not finite", b)
		}
	}
	if b.Right <= b.Left || b.Top <= b.Bottom {
		return fmt.Errorf("bounds %v are empty or inverted", b)
	}
	return nil
}

// Intersects reports whether the two rectangles share any area.
func (b SceneBounds) Intersects(o SceneBounds) bool {
	return b.Left < o.Right && o.Left < b.Right && b.Bottom < o.Top && o.Bottom < b.Top
}

func (b SceneBounds) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", b.Left, b.Bottom, b.Right, b.Top)
}

// Grid is the shared pixel frame. OriginX/OriginY is the top-left corner.
type Grid struct {
	OriginX    float64 `json:"originX"`
	OriginY    float64 `json:"originY"`
	Resolution float64 `json:"resolution"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// Build snaps the union of all scene bounds outward to multiples of resolution.
func Build(scenes []SceneBounds, resolution float64) (Grid, error) {
	if len(scenes) == 0 {
		return Grid{}, ErrEmptyInput
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return Grid{}, fmt.Errorf("%w: got %g", ErrInvalidResolution, resolution)
	}

	union := scenes[0]
	for i, s := range scenes {
		if err := s.Validate(); err != nil {
			return Grid{}, fmt.Errorf("scene %d: %w", i, err)
		}
		union.Left = math.Min(union.Left, s.Left)
		union.Bottom = math.Min(union.Bottom, s.Bottom)
		union.Right = math.Max(union.Right, s.Right)
		union.Top = math.Max(union.Top, s.Top)
	}

	originX := snapDown(union.Left, resolution) * resolution
	top := snapUp(union.Top, resolution) * resolution
	right := snapUp(union.Right, resolution) * resolution
	bottom := snapDown(union.Bottom, resolution) * resolution

	return Grid{
		OriginX:    originX,
		OriginY:    top,
		Resolution: resolution,
		Width:      int(math.Round((right - originX) / resolution)),
		Height:     int(math.Round((top - bottom) / resolution)),
	}, nil
}

// snapDown returns floor(v/res), treating values within tolerance of a grid line as on it.
func snapDown(v, res float64) float64 {
	q := v / res
	if r := math.Round(q); math.Abs(q-r) < snapTolerance {
		return r
	}
	return math.Floor(q)
}

func snapUp(v, res float64) float64 {
	q := v / res
	if r := math.Round(q); math.Abs(q-r) < snapTolerance {
		return r
	}
	return math.Ceil(q)
}

// Right returns the snapped right edge.
func (g Grid) Right() float64 { return g.OriginX + float64(g.Width)*g.Resolution }

// Bottom returns the snapped bottom edge.
func (g Grid) Bottom() float64 { return g.OriginY - float64(g.Height)*g.Resolution }

// Bounds returns the full grid extent.
func (g Grid) Bounds() SceneBounds {
	return SceneBounds{Left: g.OriginX, Bottom: g.Bottom(), Right: g.Right(), Top: g.OriginY}
}

// Contains reports whether b lies within the grid extent.
func (g Grid) Contains(b SceneBounds) bool {
	eps := g.Resolution * snapTolerance
	return b.Left >= g.OriginX-eps && b.Right <= g.Right()+eps &&
		b.Bottom >= g.Bottom()-eps && b.Top <= g.OriginY+eps
}

// Pixels returns Width*Height.
func (g Grid) Pixels() int { return g.Width * g.Height }

// Equal reports whether two grids describe the same pixel frame.
func (g Grid) Equal(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height &&
		g.OriginX == o.OriginX && g.OriginY == o.OriginY && g.Resolution == o.Resolution
}

func (g Grid) String() string {
	return fmt.Sprintf("origin=(%g,%g) res=%g size=%dx%d", g.OriginX, g.OriginY, g.Resolution, g.Width, g.Height)
}
