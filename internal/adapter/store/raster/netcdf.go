// Package raster reads gridded variables from NetCDF scratch files.
package raster

import (
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/climate-compiler/internal/domain"
)

// File is an open NetCDF scratch file.
type File struct {
	path string
	nc   netcdf.Dataset
}

// Open opens a NetCDF file read-only.
func Open(path string) (*File, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	return &File{path: path, nc: nc}, nil
}

// Close releases the underlying handle.
func (f *File) Close() error {
	return f.nc.Close()
}

// Path returns the file the handle was opened from.
func (f *File) Path() string { return f.path }

// Axis reads a 1-D numeric variable such as a coordinate or time axis.
func (f *File) Axis(name string) ([]float64, error) {
	v, err := f.nc.Var(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s not found in %s: %w", name, f.path, err)
	}
	data, err := readFloat64Var(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", name, f.path, err)
	}
	return data, nil
}

// ReadCube reads a (time, lat, lon) or (lat, lon) variable as a time-leading
// cube. A non-nil crop restricts the spatial axes to its inclusive ranges.
// Values are rescaled with scale_factor and add_offset when either is present.
func (f *File) ReadCube(name string, crop *domain.Crop) (*domain.Cube, error) {
	v, err := f.nc.Var(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s not found in %s: %w", name, f.path, err)
	}
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions of %s: %w", name, err)
	}

	lens := make([]uint64, len(dims))
	for i, d := range dims {
		if lens[i], err = d.Len(); err != nil {
			return nil, fmt.Errorf("failed to get length of dim %d of %s: %w", i, name, err)
		}
	}

	var steps uint64
	switch len(dims) {
	case 2:
		steps = 1
	case 3:
		steps = lens[0]
	default:
		return nil, fmt.Errorf("variable %s is %dD, expected (lat, lon) or (time, lat, lon)", name, len(dims))
	}
	nLat, nLon := lens[len(lens)-2], lens[len(lens)-1]

	c := domain.FullCrop(int(nLat), int(nLon)) //nolint:gosec // dimension lengths fit in int
	if crop != nil {
		c = *crop
	}
	if c.Lat.Lo < 0 || uint64(c.Lat.Hi) >= nLat || c.Lon.Lo < 0 || uint64(c.Lon.Hi) >= nLon { //nolint:gosec // checked non-negative
		return nil, fmt.Errorf("crop %+v outside %s grid %d×%d", c, name, nLat, nLon)
	}

	//nolint:gosec // G115: indices validated above.
	start := []uint64{uint64(c.Lat.Lo), uint64(c.Lon.Lo)}
	//nolint:gosec // G115: lengths validated above.
	count := []uint64{uint64(c.Lat.Len()), uint64(c.Lon.Len())}
	if len(dims) == 3 {
		start = append([]uint64{0}, start...)
		count = append([]uint64{steps}, count...)
	}

	data, err := readSlab(v, start, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", name, f.path, err)
	}

	scale, offset, ok := ScaleOffset(v)
	if ok {
		for i := range data {
			data[i] = data[i]*scale + offset
		}
	}

	cube := domain.NewCube(c.Lat.Len(), c.Lon.Len())
	if err := cube.Append(data, int(steps)); err != nil { //nolint:gosec // step count fits in int
		return nil, err
	}
	return cube, nil
}

// ScaleOffset returns the packing attributes of v. A missing scale_factor
// defaults to 1 and a missing add_offset to 0; ok reports whether either
// attribute was found.
func ScaleOffset(v netcdf.Var) (scale, offset float64, ok bool) {
	scale, offset = 1, 0
	if s, found := scalarAttr(v, "scale_factor"); found {
		scale, ok = s, true
	}
	if o, found := scalarAttr(v, "add_offset"); found {
		offset, ok = o, true
	}
	return scale, offset, ok
}

func scalarAttr(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	buf64 := make([]float64, n)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	buf32 := make([]float32, n)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	bufi := make([]int32, n)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	return 0, false
}

func readFloat64Var(v netcdf.Var) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("expected 1D variable, got %dD", len(dims))
	}
	length, err := dims[0].Len()
	if err != nil {
		return nil, err
	}
	return readSlab(v, []uint64{0}, []uint64{length})
}

// readSlab reads a hyperslab of any supported numeric type as float64.
func readSlab(v netcdf.Var, start, count []uint64) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}
	total := uint64(1)
	for _, c := range count {
		total *= c
	}

	out := make([]float64, total)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64Slice(out, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float64 slab: %w", err)
		}
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float32 slab: %w", err)
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int32 slab: %w", err)
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int16 slab: %w", err)
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.BYTE, netcdf.CHAR, netcdf.UBYTE, netcdf.USHORT, netcdf.UINT, netcdf.INT64, netcdf.UINT64, netcdf.STRING:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
	return out, nil
}
