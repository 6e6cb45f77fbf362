// Package aoi clips scenes to a polygon area of interest given as WKT in
// scene map units.
package aoi

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
)

// Cutline is a POLYGON or MULTIPOLYGON area of interest.
type Cutline struct {
	geom orb.Geometry
}

// ParseWKT reads a cutline. Holes are honoured; other geometry types are
// rejected.
func ParseWKT(s string) (*Cutline, error) {
	geom, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aoi wkt: %w", err)
	}
	switch geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return nil, fmt.Errorf("aoi wkt must be a POLYGON or MULTIPOLYGON, got %s", geom.GeoJSONType())
	}
	c := &Cutline{geom: geom}
	if err := c.Bounds().Validate(); err != nil {
		return nil, fmt.Errorf("aoi wkt: %w", err)
	}
	return c, nil
}

// Bounds is the envelope of the polygon; the run grid is built from it.
func (c *Cutline) Bounds() grid.SceneBounds {
	b := c.geom.Bound()
	return grid.SceneBounds{Left: b.Min[0], Bottom: b.Min[1], Right: b.Max[0], Top: b.Max[1]}
}

// Contains reports whether the map point lies inside the polygon.
func (c *Cutline) Contains(x, y float64) bool {
	pt := orb.Point{x, y}
	switch g := c.geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}

// Mask rasterizes the cutline onto g by pixel centre.
func (c *Cutline) Mask(g grid.Grid) []bool {
	inside := make([]bool, g.Pixels())
	for row := 0; row < g.Height; row++ {
		y := g.OriginY - (float64(row)+0.5)*g.Resolution
		for col := 0; col < g.Width; col++ {
			x := g.OriginX + (float64(col)+0.5)*g.Resolution
			inside[row*g.Width+col] = c.Contains(x, y)
		}
	}
	return inside
}

// Apply sets every pixel outside the mask to nodata and returns how many
// valid pixels it removed.
func Apply(b *raster.Band, inside []bool, nodata float64) (int, error) {
	if len(inside) != len(b.Data) {
		return 0, fmt.Errorf("aoi mask has %d pixels, band has %d", len(inside), len(b.Data))
	}
	fill := float32(nodata)
	cut := 0
	for i, in := range inside {
		if in {
			continue
		}
		if !raster.IsNoData(b.Data[i], nodata) {
			cut++
		}
		b.Data[i] = fill
	}
	return cut, nil
}
