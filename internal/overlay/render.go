package overlay

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"go.ngs.io/climate-compiler/internal/domain"
)

// BundleBounds is the box spanned by the bundle's grid cells, each cell
// GridSize wide around its centre.
func BundleBounds(b *domain.Bundle) domain.BoundingBox {
	half := GridSize / 2
	return domain.BoundingBox{
		LatMin: floats.Min(b.Lat) - half,
		LatMax: floats.Max(b.Lat) + half,
		LonMin: floats.Min(b.Lon) - half,
		LonMax: floats.Max(b.Lon) + half,
	}
}

// Render draws the base map around b, outlines it and overlays variable.
func (p *Plotter) Render(ctx context.Context, b *domain.Bundle, variable string, opts DataOptions) error {
	if b == nil || len(b.Lat) == 0 || len(b.Lon) == 0 {
		return domain.ErrNoBundle
	}
	if err := p.PlotBaseMap(ctx, BundleBounds(b)); err != nil {
		return err
	}
	if err := p.PlotRegion(); err != nil {
		return err
	}
	return p.PlotData(b, variable, opts)
}
