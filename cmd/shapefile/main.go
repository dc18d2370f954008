// Command shapefile writes a rectangular region polygon for use with the
// compile -region flag.
//
// Usage:
//
//	shapefile -preset sardinia -out data/regions/sardinia.shp
//	shapefile -bbox 8.0,38.8,10.0,41.2 -name custom -out data/regions/custom.shp
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ctessum/geom"

	"go.ngs.io/climate-compiler/internal/adapter/region"
)

func main() {
	preset := flag.String("preset", "", "named region: "+strings.Join(presetNames(), ", "))
	bbox := flag.String("bbox", "", "lonMin,latMin,lonMax,latMax in degrees")
	name := flag.String("name", "", "feature name (default: preset name or \"region\")")
	out := flag.String("out", "", "output .shp path")
	flag.Parse()

	if err := run(*preset, *bbox, *name, *out); err != nil {
		fmt.Fprintf(os.Stderr, "shapefile: %v\n", err)
		os.Exit(1)
	}
}

func run(preset, bbox, name, out string) error {
	if out == "" {
		return fmt.Errorf("-out is required")
	}

	var ring geom.Path
	switch {
	case preset != "" && bbox != "":
		return fmt.Errorf("use either -preset or -bbox, not both")
	case preset != "":
		r, ok := region.Presets[preset]
		if !ok {
			return fmt.Errorf("unknown preset %q (have %s)", preset, strings.Join(presetNames(), ", "))
		}
		ring = r
		if name == "" {
			name = preset
		}
	case bbox != "":
		r, err := parseBBox(bbox)
		if err != nil {
			return err
		}
		ring = r
	default:
		return fmt.Errorf("one of -preset or -bbox is required")
	}
	if name == "" {
		name = "region"
	}

	if err := region.Write(out, name, ring); err != nil {
		return err
	}
	b, err := region.RingBounds(ring)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s: %s\n", out, b)
	return nil
}

func parseBBox(s string) (geom.Path, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return nil, fmt.Errorf("bbox %s is empty or inverted", s)
	}
	return region.Rectangle(v[0], v[1], v[2], v[3]), nil
}

func presetNames() []string {
	names := make([]string, 0, len(region.Presets))
	for n := range region.Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
