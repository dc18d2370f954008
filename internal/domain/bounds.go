package domain

import (
	"fmt"
	"math"
)

// BoundingBox is an axis-aligned latitude/longitude box in degrees.
type BoundingBox struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// GlobalBounds covers the full WGS84 domain.
var GlobalBounds = BoundingBox{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180}

// BoundsOrGlobal returns b, or GlobalBounds when no region was requested.
func BoundsOrGlobal(b *BoundingBox) BoundingBox {
	if b == nil {
		return GlobalBounds
	}
	return *b
}

// DeltaLat returns the latitude span of the box.
func (b BoundingBox) DeltaLat() float64 { return b.LatMax - b.LatMin }

// DeltaLon returns the longitude span of the box.
func (b BoundingBox) DeltaLon() float64 { return b.LonMax - b.LonMin }

// Area returns the CDS "area" ordering: north, west, south, east.
func (b BoundingBox) Area() [4]float64 {
	return [4]float64{b.LatMax, b.LonMin, b.LatMin, b.LonMax}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("lat[%.4f, %.4f] lon[%.4f, %.4f]", b.LatMin, b.LatMax, b.LonMin, b.LonMax)
}

// CropRange is an inclusive grid-index range along one axis.
type CropRange struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// Len returns the number of cells selected by the range.
func (r CropRange) Len() int { return r.Hi - r.Lo + 1 }

// Crop is the pair of index ranges applied to every scratch file of a compile.
type Crop struct {
	Lat CropRange `json:"lat"`
	Lon CropRange `json:"lon"`
}

// NearestIndex returns the index of the axis value closest to target.
// Ties resolve to the first occurrence. Axis order does not matter.
func NearestIndex(axis []float64, target float64) int {
	best := 0
	bestDiff := math.Inf(1)
	for i, v := range axis {
		if d := math.Abs(v - target); d < bestDiff {
			best = i
			bestDiff = d
		}
	}
	return best
}

// ResolveCropRange snaps each bound of the box to its nearest grid index.
// The result is a nearest-neighbour snap, so it can be one cell larger or
// smaller than strict containment would give.
func ResolveCropRange(lat, lon []float64, bbox BoundingBox) (Crop, error) {
	if len(lat) == 0 || len(lon) == 0 {
		return Crop{}, fmt.Errorf("cannot resolve crop on empty axis (lat=%d, lon=%d)", len(lat), len(lon))
	}
	return Crop{
		Lat: orderedRange(NearestIndex(lat, bbox.LatMax), NearestIndex(lat, bbox.LatMin)),
		Lon: orderedRange(NearestIndex(lon, bbox.LonMin), NearestIndex(lon, bbox.LonMax)),
	}, nil
}

// FullCrop selects the whole grid.
func FullCrop(nLat, nLon int) Crop {
	return Crop{
		Lat: CropRange{Lo: 0, Hi: nLat - 1},
		Lon: CropRange{Lo: 0, Hi: nLon - 1},
	}
}

func orderedRange(a, b int) CropRange {
	if a > b {
		a, b = b, a
	}
	return CropRange{Lo: a, Hi: b}
}

// ClampYear maps a year into [minYear, maxYear].
func ClampYear(year, minYear, maxYear int) int {
	if year < minYear {
		return minYear
	}
	if year > maxYear {
		return maxYear
	}
	return year
}

// ClampTimeframe clamps both ends of a (start, end) year pair.
func ClampTimeframe(start, end, minYear, maxYear int) (int, int) {
	return ClampYear(start, minYear, maxYear), ClampYear(end, minYear, maxYear)
}
