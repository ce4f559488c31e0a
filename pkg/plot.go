package pkg

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

type curve struct {
	label string
	xs    []float64
	ys    []float64
}

type plotSpec struct {
	path     string
	title    string
	xLabel   string
	yLabel   string
	diagonal bool
	curves   []curve
}

// savePlot renders one or more curves on the unit square and writes the
// figure as a PNG.
func savePlot(spec plotSpec) error {
	p := plot.New()
	p.Title.Text = spec.title
	p.X.Label.Text = spec.xLabel
	p.Y.Label.Text = spec.yLabel
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	if spec.diagonal {
		diagonal, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
		if err != nil {
			return fmt.Errorf("error building diagonal for %s: %w", spec.path, err)
		}
		diagonal.LineStyle.Color = color.Gray{Y: 128}
		diagonal.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(diagonal)
	}

	for i, c := range spec.curves {
		line, err := plotter.NewLine(points(c.xs, c.ys))
		if err != nil {
			return fmt.Errorf("error building curve %q for %s: %w", c.label, spec.path, err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(c.label, line)
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, spec.path); err != nil {
		return fmt.Errorf("error saving plot %s: %w", spec.path, err)
	}
	return nil
}

func points(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}
