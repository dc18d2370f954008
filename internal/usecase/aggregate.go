package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"go.ngs.io/climate-compiler/internal/adapter/store/raster"
	"go.ngs.io/climate-compiler/internal/dataset"
	"go.ngs.io/climate-compiler/internal/domain"
)

// Aggregate reads every file in order and builds a bundle of the requested
// variables. When bbox is non-nil the crop range is resolved once from the
// first file and applied to all of them. No files yields a nil bundle.
func Aggregate(ds dataset.Dataset, files, variables []string, bbox *domain.BoundingBox, loc *time.Location, logger *slog.Logger) (*domain.Bundle, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if len(variables) == 0 {
		return nil, fmt.Errorf("no variables requested")
	}

	lat, lon, err := readAxes(ds, files[0])
	if err != nil {
		return nil, err
	}
	return aggregate(ds, files, variables, bbox, lat, lon, loc, logger)
}

// readAxes reads the coordinate vectors of one scratch file.
func readAxes(ds dataset.Dataset, path string) (lat, lon []float64, err error) {
	f, err := raster.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	if lat, err = f.Axis(ds.LatName()); err != nil {
		return nil, nil, err
	}
	if lon, err = f.Axis(ds.LonName()); err != nil {
		return nil, nil, err
	}
	return lat, lon, nil
}

func aggregate(ds dataset.Dataset, files, variables []string, bbox *domain.BoundingBox, lat, lon []float64, loc *time.Location, logger *slog.Logger) (*domain.Bundle, error) {
	var crop *domain.Crop
	if bbox != nil {
		c, err := domain.ResolveCropRange(lat, lon, *bbox)
		if err != nil {
			return nil, err
		}
		crop = &c
		lat = lat[c.Lat.Lo : c.Lat.Hi+1]
		lon = lon[c.Lon.Lo : c.Lon.Hi+1]
		logger.Info("crop resolved", "region", bbox.String(), "lat", c.Lat, "lon", c.Lon)
	}

	b := domain.NewBundle(ds.Name(), ds.SortKey())
	b.Lat = append([]float64(nil), lat...)
	b.Lon = append([]float64(nil), lon...)
	for _, name := range variables {
		b.SetVariable(name, domain.NewCube(len(lat), len(lon)))
	}

	for _, path := range files {
		if err := appendFile(b, ds, path, variables, crop, loc); err != nil {
			return nil, err
		}
		logger.Debug("stacked scratch file", "file", path, "steps", b.Steps())
	}

	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("aggregated bundle: %w", err)
	}
	return b, nil
}

// appendFile adds one scratch file's slabs and time steps to b.
func appendFile(b *domain.Bundle, ds dataset.Dataset, path string, variables []string, crop *domain.Crop, loc *time.Location) error {
	f, err := raster.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := f.Axis(dataset.TimeVar)
	if err != nil {
		return err
	}
	steps := ds.DecodeTimes(raw, loc)

	for _, name := range variables {
		piece, err := f.ReadCube(name, crop)
		if err != nil {
			return err
		}
		if piece.Steps != len(steps) {
			return fmt.Errorf("%s: variable %s has %d steps but time has %d", path, name, piece.Steps, len(steps))
		}
		if err := b.Variables[name].Append(piece.Data, piece.Steps); err != nil {
			return fmt.Errorf("%s: variable %s: %w", path, name, err)
		}
	}

	for _, s := range steps {
		b.AppendStep(s.Date)
		if ds.SortKey() == domain.SortByUnixTime {
			b.UnixTime = append(b.UnixTime, s.Unix)
		}
	}
	return nil
}
