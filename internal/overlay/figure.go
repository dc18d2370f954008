package overlay

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	figureDPI = 96
	// pxToPt converts raster pixels to points at figureDPI.
	pxToPt     = vg.Length(72.0 / figureDPI)
	axisMargin = 16 * vg.Millimeter
	barWidth   = 28 * vg.Millimeter
	tickCount  = 6
)

// WriteTo renders the current raster with lat/lon axes, plus a colorbar
// when a data layer has been plotted, and writes it as PNG.
func (p *Plotter) WriteTo(w io.Writer) (int64, error) {
	if p.canvas == nil {
		return 0, ErrNoBaseMap
	}
	mapPlot := p.mapPlot()

	b := p.canvas.Bounds()
	width := vg.Length(b.Dx())*pxToPt + 2*axisMargin
	height := vg.Length(b.Dy())*pxToPt + 2*axisMargin
	if p.bar != nil {
		width += barWidth
	}
	c := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(figureDPI))
	dc := draw.New(c)

	if p.bar == nil {
		mapPlot.Draw(dc)
	} else {
		mapPlot.Draw(draw.Crop(dc, 0, -barWidth, 0, 0))
		p.barPlot().Draw(draw.Crop(dc, width-barWidth, 0, 0, 0))
	}
	return vgimg.PngCanvas{Canvas: c}.WriteTo(w)
}

// Save writes the rendered figure to path, creating parent directories.
func (p *Plotter) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := p.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	p.logger.Info("overlay saved", "path", path)
	return nil
}

// mapPlot places the raster in pixel data coordinates, with y growing up,
// and labels the axes in degrees.
func (p *Plotter) mapPlot() *plot.Plot {
	b := p.canvas.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	pl := plot.New()
	pl.X.Label.Text = "Longitude"
	pl.Y.Label.Text = "Latitude"
	pl.X.Min, pl.X.Max = 0, w
	pl.Y.Min, pl.Y.Max = 0, h
	pl.Add(plotter.NewImage(p.canvas, 0, 0, w, h))
	pl.X.Tick.Marker = plot.ConstantTicks(p.lonTicks(w))
	pl.Y.Tick.Marker = plot.ConstantTicks(p.latTicks(h))
	return pl
}

func (p *Plotter) lonTicks(w float64) []plot.Tick {
	xs := floats.Span(make([]float64, tickCount), 0, w)
	ticks := make([]plot.Tick, len(xs))
	for i, x := range xs {
		_, lon := p.PxToDeg(x, 0)
		ticks[i] = plot.Tick{Value: x, Label: fmt.Sprintf("%.2f°", lon)}
	}
	return ticks
}

// latTicks labels data y (bottom-up) with the latitude of raster row h-y.
func (p *Plotter) latTicks(h float64) []plot.Tick {
	ys := floats.Span(make([]float64, tickCount), 0, h)
	ticks := make([]plot.Tick, len(ys))
	for i, y := range ys {
		lat, _ := p.PxToDeg(0, h-y)
		ticks[i] = plot.Tick{Value: y, Label: fmt.Sprintf("%.2f°", lat)}
	}
	return ticks
}

func (p *Plotter) barPlot() *plot.Plot {
	pl := plot.New()
	pl.HideX()
	pl.Y.Label.Text = p.bar.label
	pl.Add(&plotter.ColorBar{ColorMap: p.bar.cmap, Vertical: true, Colors: 100})

	values := floats.Span(make([]float64, 10), p.bar.min, p.bar.max)
	ticks := make([]plot.Tick, len(values))
	for i, v := range values {
		ticks[i] = plot.Tick{Value: v, Label: tickLabel(v)}
	}
	pl.Y.Tick.Marker = plot.ConstantTicks(ticks)
	return pl
}

func tickLabel(v float64) string {
	if a := math.Abs(v); a != 0 && (a < 0.01 || a >= 1e5) {
		return fmt.Sprintf("%.2e", v)
	}
	return fmt.Sprintf("%.2f", v)
}
