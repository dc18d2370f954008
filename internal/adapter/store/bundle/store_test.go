package bundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/climate-compiler/internal/adapter/store/raster"
	"go.ngs.io/climate-compiler/internal/domain"
	"go.ngs.io/climate-compiler/internal/observability"
)

func sampleBundle(t *testing.T) *domain.Bundle {
	t.Helper()
	b := domain.NewBundle("era5", domain.SortByIdx)
	b.Lat = []float64{41, 40}
	b.Lon = []float64{8, 9, 10}
	cube := domain.NewCube(2, 3)
	require.NoError(t, cube.Append([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, 2))
	b.SetVariable("tp", cube)
	b.AppendStep(time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC))
	b.AppendStep(time.Date(2019, time.February, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, b.Validate())
	return b
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(observability.DiscardLogger())
	require.NoError(t, err)
	return s
}

func TestWrite_NilBundleCreatesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.cbor")
	require.NoError(t, newTestStore(t).Write(path, nil, FormatCBOR))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteRead_CBOR(t *testing.T) {
	for _, name := range []string{"out.cbor", "out.cbor.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			want := sampleBundle(t)
			require.NoError(t, newTestStore(t).Write(path, want, FormatCBOR))

			got, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, want.Dataset, got.Dataset)
			assert.Equal(t, want.Idx, got.Idx)
			assert.Equal(t, want.Lat, got.Lat)
			assert.Equal(t, []string{"tp"}, got.VariableOrder)
			assert.Equal(t, want.Variables["tp"].Data, got.Variables["tp"].Data)
		})
	}
}

func TestWrite_NetCDFExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.nc")
	require.NoError(t, newTestStore(t).Write(path, sampleBundle(t), FormatNetCDF))

	f, err := raster.Open(path)
	require.NoError(t, err)
	defer f.Close()

	times, err := f.Axis("time")
	require.NoError(t, err)
	assert.Equal(t, []float64{201901, 201902}, times)

	cube, err := f.ReadCube("tp", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, cube.Steps)
	assert.Equal(t, []float64{7, 8, 9, 10, 11, 12}, cube.Slice(1))
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := newTestStore(t).Write(filepath.Join(t.TempDir(), "x"), sampleBundle(t), Format("pickle"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCBOR, f)

	f, err = ParseFormat("NetCDF")
	require.NoError(t, err)
	assert.Equal(t, FormatNetCDF, f)

	_, err = ParseFormat("pickle")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "none.cbor"))
	assert.Error(t, err)
}
