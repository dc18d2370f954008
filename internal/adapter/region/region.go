// Package region resolves a region boundary shapefile into a bounding box.
package region

import (
	"errors"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"go.ngs.io/climate-compiler/internal/domain"
)

// ErrNoPolygon is returned when a shapefile holds no polygon features.
var ErrNoPolygon = errors.New("shapefile contains no polygon feature")

// Resolve reads the shapefile at path and returns the vertex extrema of the
// exterior ring of its polygon. When the file holds several features the last
// one wins. Coordinates are taken as-is (x = lon, y = lat).
func Resolve(path string) (*domain.BoundingBox, error) {
	ring, err := LastRing(path)
	if err != nil {
		return nil, err
	}
	return RingBounds(ring)
}

// LastRing returns the exterior ring of the last polygon feature in the file.
func LastRing(path string) (geom.Path, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer dec.Close()

	var ring geom.Path
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			continue
		}
		for _, p := range poly.Polygons() {
			if len(p) > 0 {
				ring = p[0]
			}
		}
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("failed to decode shapefile %s: %w", path, err)
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPolygon)
	}
	return ring, nil
}

// RingBounds computes the axis-aligned box around a ring's vertices.
func RingBounds(ring geom.Path) (*domain.BoundingBox, error) {
	if len(ring) == 0 {
		return nil, ErrNoPolygon
	}
	b := &domain.BoundingBox{
		LatMin: ring[0].Y, LatMax: ring[0].Y,
		LonMin: ring[0].X, LonMax: ring[0].X,
	}
	for _, p := range ring[1:] {
		b.LatMin = min(b.LatMin, p.Y)
		b.LatMax = max(b.LatMax, p.Y)
		b.LonMin = min(b.LonMin, p.X)
		b.LonMax = max(b.LonMax, p.X)
	}
	return b, nil
}
