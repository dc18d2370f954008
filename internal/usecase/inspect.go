package usecase

import (
	"fmt"

	"go.ngs.io/climate-compiler/internal/adapter/interp"
	"go.ngs.io/climate-compiler/internal/adapter/store/bundle"
	"go.ngs.io/climate-compiler/internal/domain"
)

// SamplePoint is one time step of a point series.
type SamplePoint struct {
	Idx   int     `json:"idx"`
	Year  int     `json:"year"`
	Month int     `json:"month"`
	Value float64 `json:"value"`
}

// SampleResponse is the interpolated series of one variable at a point.
type SampleResponse struct {
	Dataset  string        `json:"dataset"`
	Variable string        `json:"variable"`
	Lat      float64       `json:"lat"`
	Lon      float64       `json:"lon"`
	Series   []SamplePoint `json:"series"`
}

// BundleLoader reads a stored bundle.
type BundleLoader func(path string) (*domain.Bundle, error)

// Inspector answers point queries against stored bundles.
type Inspector struct {
	load BundleLoader
}

// NewInspector creates an inspector. A nil loader reads CBOR bundles.
func NewInspector(load BundleLoader) *Inspector {
	if load == nil {
		load = bundle.Read
	}
	return &Inspector{load: load}
}

// Load reads the bundle at path.
func (i *Inspector) Load(path string) (*domain.Bundle, error) {
	return i.load(path)
}

// Sample bilinearly interpolates variable at (lat, lon) for every time step
// of the bundle stored at path.
func (i *Inspector) Sample(path, variable string, lat, lon float64) (*SampleResponse, error) {
	b, err := i.load(path)
	if err != nil {
		return nil, err
	}
	return SampleBundle(b, variable, lat, lon)
}

// SampleBundle interpolates variable at (lat, lon) for every step of b.
func SampleBundle(b *domain.Bundle, variable string, lat, lon float64) (*SampleResponse, error) {
	if b == nil {
		return nil, domain.ErrNoBundle
	}
	cube, ok := b.Variables[variable]
	if !ok {
		return nil, fmt.Errorf("variable %q not in bundle (have %v)", variable, b.VariableOrder)
	}

	resp := &SampleResponse{
		Dataset:  b.Dataset,
		Variable: variable,
		Lat:      lat,
		Lon:      lon,
		Series:   make([]SamplePoint, 0, cube.Steps),
	}
	for t := 0; t < cube.Steps; t++ {
		g, err := interp.NewGrid(b.Lon, b.Lat, cube.Slice(t))
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		v, err := g.At(lon, lat)
		if err != nil {
			return nil, err
		}
		resp.Series = append(resp.Series, SamplePoint{Idx: b.Idx[t], Year: b.Year[t], Month: b.Month[t], Value: v})
	}
	return resp, nil
}
