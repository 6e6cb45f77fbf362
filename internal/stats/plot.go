package stats

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var sigmaColors = []color.Color{
	color.RGBA{R: 200, A: 255},
	color.RGBA{R: 230, G: 140, A: 255},
	color.RGBA{G: 160, A: 255},
	color.RGBA{G: 160, A: 255},
	color.RGBA{R: 230, G: 140, A: 255},
	color.RGBA{R: 200, A: 255},
}

// PlotHistogram writes a histogram of the pooled valid values of src with
// vertical lines at the +-1, 2 and 3 sigma percentiles. The image format
// follows the extension of path.
func PlotHistogram(ctx context.Context, src Source, opts Options, bins int, path string) error {
	pooled, err := Pool(ctx, src, opts)
	if err != nil {
		return err
	}
	if len(pooled) == 0 {
		return ErrNoValidData
	}
	if bins <= 0 {
		bins = 256
	}
	sort.Float64s(pooled)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pooled values (%d pixels, %d scenes)", len(pooled), src.Len())
	p.X.Label.Text = "Value"
	p.Y.Label.Text = "Count"

	h, err := plotter.NewHist(plotter.Values(pooled), bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	h.FillColor = color.Gray{Y: 160}
	p.Add(h)

	var top float64
	for _, b := range h.Bins {
		top = max(top, b.Weight)
	}

	for i, pct := range SigmaPercentiles {
		x := Quantile(pooled, pct)
		line, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: top}})
		if err != nil {
			return err
		}
		line.Color = sigmaColors[i%len(sigmaColors)]
		line.Width = vg.Points(1)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("p%g = %.3g", pct, x), line)
	}

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save histogram plot: %w", err)
	}
	log.Printf("[Stats] Histogram written to %s", path)
	return nil
}
