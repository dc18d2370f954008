package raster

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"
)

// Layer is one gridded variable of a Grid, stored time-major.
type Layer struct {
	Name  string
	Units string
	Data  []float64
	// Pack stores the layer as SHORT with scale_factor/add_offset attributes.
	Pack   bool
	Scale  float64
	Offset float64
}

// Grid describes a NetCDF file with optional time axis and 1-D coordinates.
type Grid struct {
	LatName   string
	LonName   string
	Lat       []float64
	Lon       []float64
	Time      []float64
	TimeType  netcdf.Type // INT or DOUBLE, defaults to DOUBLE
	TimeUnits string
	Layers    []Layer
}

// Write creates path (clobbering) and writes the grid to it. Layers are
// (time, lat, lon) when Time is non-empty and (lat, lon) otherwise.
func Write(path string, g Grid) error {
	latName, lonName := g.LatName, g.LonName
	if latName == "" {
		latName = "lat"
	}
	if lonName == "" {
		lonName = "lon"
	}
	steps := max(len(g.Time), 1)
	cell := len(g.Lat) * len(g.Lon)
	for _, l := range g.Layers {
		if len(l.Data) != steps*cell {
			return fmt.Errorf("layer %s has %d values, expected %d", l.Name, len(l.Data), steps*cell)
		}
	}

	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		return fmt.Errorf("failed to create NetCDF file %s: %w", path, err)
	}
	defer func() { _ = ds.Close() }()

	latDim, err := ds.AddDim(latName, uint64(len(g.Lat)))
	if err != nil {
		return fmt.Errorf("failed to add %s dim: %w", latName, err)
	}
	lonDim, err := ds.AddDim(lonName, uint64(len(g.Lon)))
	if err != nil {
		return fmt.Errorf("failed to add %s dim: %w", lonName, err)
	}
	latVar, err := ds.AddVar(latName, netcdf.DOUBLE, []netcdf.Dim{latDim})
	if err != nil {
		return fmt.Errorf("failed to add %s var: %w", latName, err)
	}
	lonVar, err := ds.AddVar(lonName, netcdf.DOUBLE, []netcdf.Dim{lonDim})
	if err != nil {
		return fmt.Errorf("failed to add %s var: %w", lonName, err)
	}

	gridDims := []netcdf.Dim{latDim, lonDim}
	var timeVar netcdf.Var
	timeType := g.TimeType
	if len(g.Time) > 0 {
		timeDim, err := ds.AddDim("time", uint64(len(g.Time)))
		if err != nil {
			return fmt.Errorf("failed to add time dim: %w", err)
		}
		if timeType != netcdf.INT {
			timeType = netcdf.DOUBLE
		}
		if timeVar, err = ds.AddVar("time", timeType, []netcdf.Dim{timeDim}); err != nil {
			return fmt.Errorf("failed to add time var: %w", err)
		}
		if g.TimeUnits != "" {
			if err := timeVar.Attr("units").WriteBytes([]byte(g.TimeUnits)); err != nil {
				return fmt.Errorf("failed to write time units: %w", err)
			}
		}
		gridDims = []netcdf.Dim{timeDim, latDim, lonDim}
	}

	vars := make([]netcdf.Var, len(g.Layers))
	for i, l := range g.Layers {
		t := netcdf.DOUBLE
		if l.Pack {
			t = netcdf.SHORT
		}
		v, err := ds.AddVar(l.Name, t, gridDims)
		if err != nil {
			return fmt.Errorf("failed to add var %s: %w", l.Name, err)
		}
		if l.Pack {
			if err := v.Attr("scale_factor").WriteFloat64s([]float64{l.Scale}); err != nil {
				return fmt.Errorf("failed to write scale_factor of %s: %w", l.Name, err)
			}
			if err := v.Attr("add_offset").WriteFloat64s([]float64{l.Offset}); err != nil {
				return fmt.Errorf("failed to write add_offset of %s: %w", l.Name, err)
			}
		}
		if l.Units != "" {
			if err := v.Attr("units").WriteBytes([]byte(l.Units)); err != nil {
				return fmt.Errorf("failed to write units of %s: %w", l.Name, err)
			}
		}
		vars[i] = v
	}

	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("failed to leave define mode: %w", err)
	}

	if err := latVar.WriteFloat64s(g.Lat); err != nil {
		return fmt.Errorf("failed to write %s: %w", latName, err)
	}
	if err := lonVar.WriteFloat64s(g.Lon); err != nil {
		return fmt.Errorf("failed to write %s: %w", lonName, err)
	}
	if len(g.Time) > 0 {
		if err := writeTime(timeVar, timeType, g.Time); err != nil {
			return err
		}
	}
	for i, l := range g.Layers {
		if err := writeLayer(vars[i], l); err != nil {
			return err
		}
	}
	return nil
}

func writeTime(v netcdf.Var, t netcdf.Type, values []float64) error {
	if t == netcdf.INT {
		ints := make([]int32, len(values))
		for i, x := range values {
			ints[i] = int32(x)
		}
		if err := v.WriteInt32s(ints); err != nil {
			return fmt.Errorf("failed to write time: %w", err)
		}
		return nil
	}
	if err := v.WriteFloat64s(values); err != nil {
		return fmt.Errorf("failed to write time: %w", err)
	}
	return nil
}

func writeLayer(v netcdf.Var, l Layer) error {
	if !l.Pack {
		if err := v.WriteFloat64s(l.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", l.Name, err)
		}
		return nil
	}
	if l.Scale == 0 {
		return fmt.Errorf("layer %s is packed with zero scale", l.Name)
	}
	packed := make([]int16, len(l.Data))
	for i, x := range l.Data {
		raw := math.Round((x - l.Offset) / l.Scale)
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return fmt.Errorf("layer %s value %g does not fit packed range", l.Name, x)
		}
		packed[i] = int16(raw)
	}
	if err := v.WriteInt16s(packed); err != nil {
		return fmt.Errorf("failed to write %s: %w", l.Name, err)
	}
	return nil
}
