package warp

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/image/math/f64"

	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/raster"
)

// Resampler is the in-process Warper. Interpolation renormalizes kernel
// weights over valid neighbours so nodata never bleeds into the result.
type Resampler struct{}

type kernel struct {
	radius int
	weight func(t float64) float64
}

var kernels = map[Mode]kernel{
	Bilinear: {radius: 1, weight: triangle},
	Cubic:    {radius: 2, weight: cubicConvolution},
	Lanczos:  {radius: 3, weight: lanczos3},
}

func triangle(t float64) float64 {
	t = math.Abs(t)
	if t >= 1 {
		return 0
	}
	return 1 - t
}

// cubicConvolution is Keys' kernel with a = -0.5.
func cubicConvolution(t float64) float64 {
	const a = -0.5
	t = math.Abs(t)
	switch {
	case t <= 1:
		return ((a+2)*t-(a+3))*t*t + 1
	case t < 2:
		return ((a*t-5*a)*t+8*a)*t - 4*a
	}
	return 0
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	x *= math.Pi
	return math.Sin(x) / x
}

func lanczos3(t float64) float64 {
	if math.Abs(t) >= 3 {
		return 0
	}
	return sinc(t) * sinc(t/3)
}

// mul returns a·b, i.e. b applied first.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// PixelToSource maps destination pixel coordinates on g to fractional source
// pixel coordinates of a north-up scene.
func PixelToSource(g grid.Grid, h raster.Header) f64.Aff3 {
	toMap := f64.Aff3{
		g.Resolution, 0, g.OriginX,
		0, -g.Resolution, g.OriginY,
	}
	toSrc := f64.Aff3{
		1 / h.ResX, 0, -h.Bounds.Left / h.ResX,
		0, -1 / h.ResY, h.Bounds.Top / h.ResY,
	}
	return mul(toSrc, toMap)
}

// Warp implements Warper.
func (Resampler) Warp(ctx context.Context, req Request, g grid.Grid, mode Mode, nodata float64) (*raster.Band, error) {
	src := req.Band
	if src == nil {
		return nil, fmt.Errorf("%s: no source band", req.Header.Name)
	}
	if err := src.CheckShape(req.Header.Width, req.Header.Height); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Header.Name, err)
	}
	if !(req.Header.ResX > 0) || !(req.Header.ResY > 0) {
		return nil, fmt.Errorf("%s: invalid source resolution %gx%g", req.Header.Name, req.Header.ResX, req.Header.ResY)
	}

	var k kernel
	if mode != Nearest {
		var ok bool
		if k, ok = kernels[mode]; !ok {
			return nil, fmt.Errorf("resampling mode %q is not an interpolation kernel", mode)
		}
	}

	m := PixelToSource(g, req.Header)
	out := raster.NewFilledBand(g.Width, g.Height, nodata)
	w, h := float64(src.Width), float64(src.Height)

	for row := 0; row < g.Height; row++ {
		if row%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for col := 0; col < g.Width; col++ {
			sx, sy := apply(m, float64(col)+0.5, float64(row)+0.5)
			if sx < 0 || sy < 0 || sx >= w || sy >= h {
				continue
			}

			var v float32
			var ok bool
			if mode == Nearest {
				v, ok = sampleNearest(src, sx, sy, req.SrcNoData)
			} else {
				v, ok = sampleKernel(src, k, sx-0.5, sy-0.5, req.SrcNoData)
			}
			if ok {
				out.Data[row*g.Width+col] = v
			}
		}
	}
	return out, nil
}

func sampleNearest(src *raster.Band, sx, sy, nodata float64) (float32, bool) {
	v := src.At(int(sx), int(sy))
	if raster.IsNoData(v, nodata) {
		return 0, false
	}
	return v, true
}

// sampleKernel evaluates a separable kernel centred on pixel-centre coordinates (cx, cy).
func sampleKernel(src *raster.Band, k kernel, cx, cy, nodata float64) (float32, bool) {
	x0 := int(math.Floor(cx))
	y0 := int(math.Floor(cy))

	var sum, sumW float64
	for iy := y0 - k.radius + 1; iy <= y0+k.radius; iy++ {
		if iy < 0 || iy >= src.Height {
			continue
		}
		wy := k.weight(cy - float64(iy))
		if wy == 0 {
			continue
		}
		for ix := x0 - k.radius + 1; ix <= x0+k.radius; ix++ {
			if ix < 0 || ix >= src.Width {
				continue
			}
			wx := k.weight(cx - float64(ix))
			if wx == 0 {
				continue
			}
			v := src.Data[iy*src.Width+ix]
			if raster.IsNoData(v, nodata) {
				continue
			}
			wt := wx * wy
			sum += wt * float64(v)
			sumW += wt
		}
	}
	if math.Abs(sumW) < 1e-9 {
		return 0, false
	}
	return float32(sum / sumW), true
}
