// Package interp samples gridded bundle slices at arbitrary coordinates.
package interp

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrOutsideGrid is returned when a sample point lies beyond the grid axes.
var ErrOutsideGrid = errors.New("point outside grid")

// Cell is one rectangle of a regular grid with its four corner values.
type Cell struct {
	X0, X1 float64 // longitude edges
	Y0, Y1 float64 // latitude edges

	// V00 at (X0, Y0), V10 at (X1, Y0), V01 at (X0, Y1), V11 at (X1, Y1).
	V00, V10, V01, V11 float64
}

// Bilinear interpolates within a cell:
//
//	f(x,y) ≈ (1-t)(1-u)V00 + t(1-u)V10 + (1-t)u·V01 + tu·V11
//
// with t = (x-X0)/(X1-X0) and u = (y-Y0)/(Y1-Y0).
func Bilinear(c Cell, x, y float64) (float64, error) {
	if c.X1 <= c.X0 || c.Y1 <= c.Y0 {
		return 0, fmt.Errorf("degenerate cell [%g, %g]×[%g, %g]", c.X0, c.X1, c.Y0, c.Y1)
	}
	const epsilon = 1e-9
	if x < c.X0-epsilon || x > c.X1+epsilon || y < c.Y0-epsilon || y > c.Y1+epsilon {
		return 0, fmt.Errorf("%w: (%.6f, %.6f)", ErrOutsideGrid, x, y)
	}

	t := math.Max(0, math.Min(1, (x-c.X0)/(c.X1-c.X0)))
	u := math.Max(0, math.Min(1, (y-c.Y0)/(c.Y1-c.Y0)))

	return (1-t)*(1-u)*c.V00 +
		t*(1-u)*c.V10 +
		(1-t)*u*c.V01 +
		t*u*c.V11, nil
}

// Grid is a 2-D slice on strictly increasing axes. Values[i][j] is the value
// at (X[j], Y[i]).
type Grid struct {
	X      []float64
	Y      []float64
	Values [][]float64
}

// NewGrid builds a grid from a row-major (lat, lon) slice as stored in a
// bundle. Descending axes, as delivered by ERA5, are flipped so both axes
// increase.
func NewGrid(lon, lat, slice []float64) (*Grid, error) {
	if len(slice) != len(lat)*len(lon) {
		return nil, fmt.Errorf("slice has %d values, expected %d×%d", len(slice), len(lat), len(lon))
	}
	g := &Grid{
		X:      append([]float64(nil), lon...),
		Y:      append([]float64(nil), lat...),
		Values: make([][]float64, len(lat)),
	}
	for i := range lat {
		g.Values[i] = append([]float64(nil), slice[i*len(lon):(i+1)*len(lon)]...)
	}

	if len(g.Y) > 1 && g.Y[0] > g.Y[len(g.Y)-1] {
		reverse(g.Y)
		reverse(g.Values)
	}
	if len(g.X) > 1 && g.X[0] > g.X[len(g.X)-1] {
		reverse(g.X)
		for _, row := range g.Values {
			reverse(row)
		}
	}
	return g, g.Validate()
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Validate checks the grid shape and axis order.
func (g *Grid) Validate() error {
	if len(g.X) < 2 || len(g.Y) < 2 {
		return fmt.Errorf("grid needs at least 2×2 points, got %d×%d", len(g.Y), len(g.X))
	}
	if len(g.Values) != len(g.Y) {
		return fmt.Errorf("grid has %d rows, expected %d", len(g.Values), len(g.Y))
	}
	for i, row := range g.Values {
		if len(row) != len(g.X) {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(g.X))
		}
	}
	for i := 1; i < len(g.X); i++ {
		if g.X[i] <= g.X[i-1] {
			return errors.New("longitude axis must be strictly monotonic")
		}
	}
	for i := 1; i < len(g.Y); i++ {
		if g.Y[i] <= g.Y[i-1] {
			return errors.New("latitude axis must be strictly monotonic")
		}
	}
	return nil
}

// At interpolates the grid at (x, y).
func (g *Grid) At(x, y float64) (float64, error) {
	xi, err := lowerIndex(g.X, x)
	if err != nil {
		return 0, err
	}
	yi, err := lowerIndex(g.Y, y)
	if err != nil {
		return 0, err
	}
	return Bilinear(Cell{
		X0:  g.X[xi],
		X1:  g.X[xi+1],
		Y0:  g.Y[yi],
		Y1:  g.Y[yi+1],
		V00: g.Values[yi][xi],
		V10: g.Values[yi][xi+1],
		V01: g.Values[yi+1][xi],
		V11: g.Values[yi+1][xi+1],
	}, x, y)
}

// lowerIndex returns i such that axis[i] <= v <= axis[i+1].
func lowerIndex(axis []float64, v float64) (int, error) {
	n := len(axis)
	if v < axis[0] || v > axis[n-1] {
		return 0, fmt.Errorf("%w: %.6f not in [%.6f, %.6f]", ErrOutsideGrid, v, axis[0], axis[n-1])
	}
	i := sort.SearchFloat64s(axis, v)
	if i > 0 && (i == n || axis[i] > v) {
		i--
	}
	return min(i, n-2), nil
}
