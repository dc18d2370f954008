// Package overlay draws bundle data on an OpenStreetMap base layer.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/palette/moreland"

	"go.ngs.io/climate-compiler/internal/adapter/osm"
	"go.ngs.io/climate-compiler/internal/domain"
)

// GridSize is the cell edge in degrees drawn around each grid point.
const GridSize = 0.25

// Attribution is stamped on every base map.
const Attribution = "© OpenStreetMap contributors"

// ErrNoBaseMap is returned by drawing calls made before PlotBaseMap.
var ErrNoBaseMap = errors.New("base map not plotted")

// Reduction collapses the time axis of a variable before plotting.
type Reduction string

const (
	ReduceSum  Reduction = "sum"
	ReduceMean Reduction = "mean"
)

// DataOptions controls PlotData.
type DataOptions struct {
	// Colormap is a ColorBrewer palette name, "Reds" by default.
	Colormap string
	// Alpha scales the fill opacity.
	Alpha float64
	// Mode selects the time reduction, ReduceSum by default.
	Mode Reduction
	// AlphaByValue makes opacity proportional to |value/max|, clipped to
	// [0.1, 1].
	AlphaByValue bool
	// Suffix is appended to the variable name in the colorbar label.
	Suffix string
}

// DefaultDataOptions mirrors the usual overlay: summed values, red
// palette, value-proportional opacity.
func DefaultDataOptions() DataOptions {
	return DataOptions{Colormap: "Reds", Alpha: 1, Mode: ReduceSum, AlphaByValue: true}
}

// TileComposer stitches base-map tiles for a geographic box.
type TileComposer interface {
	Compose(ctx context.Context, lat0, lon0, dLat, dLon float64, zoom int) (*image.RGBA, osm.TileRange, error)
}

// colorBar records the scale of the last data layer.
type colorBar struct {
	cmap  palette.ColorMap
	min   float64
	max   float64
	label string
}

// Plotter accumulates layers on a composed base map.
type Plotter struct {
	tiles  TileComposer
	zoom   int
	logger *slog.Logger

	bbox   domain.BoundingBox
	canvas *image.RGBA
	rng    osm.TileRange
	pxX0   float64
	pxY0   float64
	bar    *colorBar
}

// NewPlotter creates a plotter rendering at the given slippy-map zoom.
func NewPlotter(tiles TileComposer, zoom int, logger *slog.Logger) *Plotter {
	return &Plotter{tiles: tiles, zoom: zoom, logger: logger}
}

// Image returns the current raster, or nil before PlotBaseMap.
func (p *Plotter) Image() *image.RGBA { return p.canvas }

// Bounds returns the box passed to PlotBaseMap.
func (p *Plotter) Bounds() domain.BoundingBox { return p.bbox }

// PlotBaseMap composes the tiles covering bbox and resets all layers.
func (p *Plotter) PlotBaseMap(ctx context.Context, bbox domain.BoundingBox) error {
	img, rng, err := p.tiles.Compose(ctx, bbox.LatMin, bbox.LonMin, bbox.DeltaLat(), bbox.DeltaLon(), p.zoom)
	if err != nil {
		return fmt.Errorf("compose base map: %w", err)
	}
	p.bbox = bbox
	p.canvas = img
	p.rng = rng
	p.pxX0 = float64(rng.XMin * osm.TileSize)
	p.pxY0 = float64(rng.YMin * osm.TileSize)
	p.bar = nil
	p.stampAttribution()
	return nil
}

// worldPx returns global Web Mercator pixel coordinates at the plot zoom.
func (p *Plotter) worldPx(lat, lon float64) (float64, float64) {
	n := math.Exp2(float64(p.zoom)) * osm.TileSize
	latRad := lat * math.Pi / 180
	x := (lon + 180) / 360 * n
	y := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n
	return x, y
}

// DegToPx projects a coordinate to pixels relative to the base map origin.
func (p *Plotter) DegToPx(lat, lon float64) (float64, float64) {
	x, y := p.worldPx(lat, lon)
	return x - p.pxX0, y - p.pxY0
}

// PxToDeg inverts DegToPx.
func (p *Plotter) PxToDeg(x, y float64) (lat, lon float64) {
	n := math.Exp2(float64(p.zoom)) * osm.TileSize
	lon = (x+p.pxX0)/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*(y+p.pxY0)/n))) * 180 / math.Pi
	return lat, lon
}

// PlotRegion outlines the base-map box in green, 2 px wide.
func (p *Plotter) PlotRegion() error {
	if p.canvas == nil {
		return ErrNoBaseMap
	}
	r := p.boxPx(p.bbox.LatMin, p.bbox.LonMin, p.bbox.LatMax, p.bbox.LonMax)
	strokeRect(p.canvas, r, 2, color.RGBA{G: 128, A: 255})
	return nil
}

// PlotDataAlignment marks every grid point of b and outlines its cell.
func (p *Plotter) PlotDataAlignment(b *domain.Bundle, c color.Color) error {
	if p.canvas == nil {
		return ErrNoBaseMap
	}
	if b == nil {
		return domain.ErrNoBundle
	}
	for _, lat := range b.Lat {
		for _, lon := range b.Lon {
			cx, cy := p.DegToPx(lat, lon)
			fillDisk(p.canvas, cx, cy, 3, c)
			strokeRect(p.canvas, p.cellPx(lat, lon), 1, c)
		}
	}
	return nil
}

// PlotData reduces variable over time and fills each grid cell with its
// colormapped value.
func (p *Plotter) PlotData(b *domain.Bundle, variable string, opts DataOptions) error {
	if p.canvas == nil {
		return ErrNoBaseMap
	}
	if b == nil {
		return domain.ErrNoBundle
	}
	values, err := Reduce(b, variable, opts.Mode)
	if err != nil {
		return err
	}

	cmap, err := colormap(opts.Colormap)
	if err != nil {
		return err
	}
	lo, hi := floats.Min(values), floats.Max(values)
	cmap.SetMin(lo)
	if hi > lo {
		cmap.SetMax(hi)
	} else {
		cmap.SetMax(lo + 1)
	}

	alpha := opts.Alpha
	if alpha == 0 {
		alpha = 1
	}
	for i, lat := range b.Lat {
		for j, lon := range b.Lon {
			v := values[i*len(b.Lon)+j]
			c, err := cmap.At(v)
			if err != nil {
				return fmt.Errorf("colormap %s at %g: %w", variable, v, err)
			}
			a := alpha
			if opts.AlphaByValue {
				a = CellAlpha(v, hi, alpha)
			}
			cell := p.cellPx(lat, lon)
			fillRect(p.canvas, cell, c, a)
			strokeRect(p.canvas, cell, 1, withAlpha(c, a))
		}
	}

	p.bar = &colorBar{cmap: cmap, min: lo, max: cmap.Max(), label: variable + opts.Suffix}
	p.logger.Info("data plotted", "variable", variable, "mode", string(opts.Mode), "min", lo, "max", hi)
	return nil
}

// Reduce collapses the time axis of variable into one (lat, lon) slice.
func Reduce(b *domain.Bundle, variable string, mode Reduction) ([]float64, error) {
	cube, ok := b.Variables[variable]
	if !ok {
		return nil, fmt.Errorf("variable %q not in bundle", variable)
	}
	if cube.Steps == 0 {
		return nil, fmt.Errorf("variable %q has no time steps", variable)
	}
	if mode == "" {
		mode = ReduceSum
	}
	if mode != ReduceSum && mode != ReduceMean {
		return nil, fmt.Errorf("unknown reduction %q", mode)
	}

	cells := cube.Rows * cube.Cols
	out := make([]float64, cells)
	series := make([]float64, cube.Steps)
	for k := 0; k < cells; k++ {
		for t := 0; t < cube.Steps; t++ {
			series[t] = cube.Data[t*cells+k]
		}
		if mode == ReduceMean {
			out[k] = stat.Mean(series, nil)
		} else {
			out[k] = floats.Sum(series)
		}
	}
	return out, nil
}

// CellAlpha is clip(|v/max|·alpha, 0.1, 1).
func CellAlpha(v, maxValue, alpha float64) float64 {
	a := math.Abs(v/maxValue) * alpha
	if math.IsNaN(a) {
		return 0.1
	}
	return math.Min(1, math.Max(0.1, a))
}

func colormap(name string) (palette.ColorMap, error) {
	if name == "" {
		name = "Reds"
	}
	pal, err := brewer.GetPalette(brewer.TypeAny, name, 9)
	if err != nil {
		return nil, fmt.Errorf("colormap %q: %w", name, err)
	}
	colors := pal.Colors()
	if cm, err := moreland.NewLuminance(colors); err == nil {
		return cm, nil
	}
	// Sequential palettes darken towards high values; interpolate them in
	// rising luminance and flip the result.
	rev := make([]color.Color, len(colors))
	for i, c := range colors {
		rev[len(colors)-1-i] = c
	}
	cm, err := moreland.NewLuminance(rev)
	if err != nil {
		return nil, fmt.Errorf("colormap %q: %w", name, err)
	}
	return flipped{cm}, nil
}

// flipped reads an ascending-luminance map from its high end. The mirrored
// value is clamped since max-v+min can round past either bound.
type flipped struct {
	palette.ColorMap
}

func (f flipped) At(v float64) (color.Color, error) {
	lo, hi := f.Min(), f.Max()
	return f.ColorMap.At(math.Min(hi, math.Max(lo, hi-(v-lo))))
}

// boxPx returns the pixel rectangle spanned by two corners.
func (p *Plotter) boxPx(lat0, lon0, lat1, lon1 float64) image.Rectangle {
	x0, y0 := p.DegToPx(lat0, lon0)
	x1, y1 := p.DegToPx(lat1, lon1)
	return image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1))).Canon()
}

func (p *Plotter) cellPx(lat, lon float64) image.Rectangle {
	return p.boxPx(lat-GridSize/2, lon-GridSize/2, lat+GridSize/2, lon+GridSize/2)
}

func (p *Plotter) stampAttribution() {
	d := font.Drawer{
		Dst:  p.canvas,
		Src:  image.NewUniform(color.RGBA{A: 255}),
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(Attribution).Ceil()
	b := p.canvas.Bounds()
	box := image.Rect(b.Max.X-width-6, b.Max.Y-17, b.Max.X, b.Max.Y).Intersect(b)
	fillRect(p.canvas, box, color.White, 0.7)
	d.Dot = fixed.P(box.Min.X+3, b.Max.Y-4)
	d.DrawString(Attribution)
}

func withAlpha(c color.Color, a float64) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(math.Round(a * 255))}
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color, a float64) {
	xdraw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(withAlpha(c, a)), image.Point{}, xdraw.Over)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, width int, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		xdraw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, xdraw.Over)
	}
}

func fillDisk(dst *image.RGBA, cx, cy, radius float64, c color.Color) {
	b := dst.Bounds()
	for y := int(cy - radius); y <= int(cy+radius); y++ {
		for x := int(cx - radius); x <= int(cx+radius); x++ {
			if !image.Pt(x, y).In(b) {
				continue
			}
			if dx, dy := float64(x)-cx, float64(y)-cy; dx*dx+dy*dy <= radius*radius {
				dst.Set(x, y, c)
			}
		}
	}
}
