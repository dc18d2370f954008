package region

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// feature is the shapefile record layout written by Write.
type feature struct {
	geom.Polygon
	Name string
}

// Presets are named WGS84 rectangles (lon, lat) usable as compile regions.
var Presets = map[string]geom.Path{
	"sardinia": {
		{X: 8.067428, Y: 41.203210},
		{X: 9.993755, Y: 41.203210},
		{X: 9.993755, Y: 38.818011},
		{X: 8.067428, Y: 38.818011},
	},
	"sahara": {
		{X: -20.684469, Y: 23.527673},
		{X: 50.127792, Y: 23.527673},
		{X: 50.127792, Y: -1.729684},
		{X: -20.684469, Y: -1.729684},
	},
}

// Rectangle returns the closed-corner ring for a lon/lat box.
func Rectangle(lonMin, latMin, lonMax, latMax float64) geom.Path {
	return geom.Path{
		{X: lonMin, Y: latMax},
		{X: lonMax, Y: latMax},
		{X: lonMax, Y: latMin},
		{X: lonMin, Y: latMin},
	}
}

// Write creates a single-feature polygon shapefile at path.
func Write(path, name string, ring geom.Path) error {
	if len(ring) < 3 {
		return fmt.Errorf("polygon needs at least 3 vertices, got %d", len(ring))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	enc, err := shp.NewEncoder(path, feature{})
	if err != nil {
		return fmt.Errorf("failed to create shapefile %s: %w", path, err)
	}
	if err := enc.Encode(feature{Polygon: geom.Polygon{ring}, Name: name}); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write feature %s: %w", name, err)
	}
	enc.Close()
	return nil
}
