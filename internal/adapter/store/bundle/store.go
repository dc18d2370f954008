// Package bundle persists compiled bundles.
package bundle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"go.ngs.io/climate-compiler/internal/adapter/store/raster"
	"go.ngs.io/climate-compiler/internal/domain"
)

// Format selects the on-disk encoding of a bundle.
type Format string

const (
	// FormatCBOR is a self-describing CBOR map of the whole bundle. Paths
	// ending in .zst are zstd-compressed.
	FormatCBOR Format = "cbor"
	// FormatNetCDF exports coordinates, variables and per-step metadata as
	// a NetCDF file with dims (time, lat, lon).
	FormatNetCDF Format = "netcdf"
)

// ErrUnknownFormat is returned for unsupported Format values.
var ErrUnknownFormat = errors.New("unknown bundle format")

// ParseFormat maps a user-supplied name to a Format. Empty selects CBOR.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCBOR:
		return FormatCBOR, nil
	case FormatNetCDF, "nc":
		return FormatNetCDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Store writes bundles to disk and reads CBOR bundles back.
type Store struct {
	logger *slog.Logger
	enc    cbor.EncMode
}

// NewStore creates a bundle store.
func NewStore(logger *slog.Logger) (*Store, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	return &Store{logger: logger, enc: enc}, nil
}

// Write serializes b to path. A nil bundle is logged and nothing is written.
func (s *Store) Write(path string, b *domain.Bundle, format Format) error {
	if b == nil {
		s.logger.Warn("nothing to write", "path", path)
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	var err error
	switch format {
	case FormatCBOR, "":
		err = s.writeCBOR(path, b)
	case FormatNetCDF:
		err = writeNetCDF(path, b)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return err
	}
	s.logger.Info("bundle written", "path", path, "format", string(format), "steps", b.Steps(), "variables", b.VariableOrder)
	return nil
}

func (s *Store) writeCBOR(path string, b *domain.Bundle) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var zw *zstd.Encoder
	if isCompressed(path) {
		if zw, err = zstd.NewWriter(bw); err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		w = zw
	}

	if err := s.enc.NewEncoder(w).Encode(b); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("flush zstd: %w", err)
		}
	}
	return bw.Flush()
}

// Read loads a CBOR bundle written by Write.
func Read(path string) (*domain.Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if isCompressed(path) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var b domain.Bundle
	if err := cbor.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("bundle %s is inconsistent: %w", path, err)
	}
	return &b, nil
}

func isCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zst")
}

// writeNetCDF exports the bundle. Time is stored as the sort key so that
// the file is self-ordering; year, month and idx follow as (time) vectors.
func writeNetCDF(path string, b *domain.Bundle) error {
	if b.Steps() == 0 {
		return errors.New("cannot export a bundle without time steps")
	}
	g := raster.Grid{
		Lat:      b.Lat,
		Lon:      b.Lon,
		Time:     make([]float64, b.Steps()),
		TimeType: netcdf.DOUBLE,
	}
	if b.SortKey == domain.SortByUnixTime {
		g.TimeUnits = "seconds since 1970-01-01 00:00:00"
		for i, v := range b.UnixTime {
			g.Time[i] = float64(v)
		}
	} else {
		g.TimeUnits = "yyyymm"
		for i, v := range b.Idx {
			g.Time[i] = float64(v)
		}
	}
	for _, name := range b.VariableOrder {
		g.Layers = append(g.Layers, raster.Layer{Name: name, Data: b.Variables[name].Data})
	}
	if err := raster.Write(path, g); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}
