package usecase

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/climate-compiler/internal/adapter/region"
	"go.ngs.io/climate-compiler/internal/adapter/store/bundle"
	"go.ngs.io/climate-compiler/internal/adapter/store/raster"
	"go.ngs.io/climate-compiler/internal/dataset"
	"go.ngs.io/climate-compiler/internal/domain"
	"go.ngs.io/climate-compiler/internal/observability"
)

// Hours since 1900-01-01 for the first of each month in 2019.
const (
	hoursJan2019 = 1043136
	hoursFeb2019 = 1043880
	hoursMar2019 = 1044552
)

var (
	testLat = []float64{42, 41, 40, 39, 38}
	testLon = []float64{7, 8, 9, 10, 11}
)

// era5Grid builds a 5×5 ERA5-style file whose cells all hold base+step.
func era5Grid(hours []float64, base float64) raster.Grid {
	data := make([]float64, 0, len(hours)*25)
	for s := range hours {
		for k := 0; k < 25; k++ {
			data = append(data, base+float64(s))
		}
	}
	return raster.Grid{
		LatName:  "latitude",
		LonName:  "longitude",
		Lat:      testLat,
		Lon:      testLon,
		Time:     hours,
		TimeType: netcdf.INT,
		Layers:   []raster.Layer{{Name: "tp", Data: data}},
	}
}

type fakeFetcher struct {
	requests []map[string]any
	targets  []string
	write    func(call int, target string) error
	err      error
}

func (f *fakeFetcher) Retrieve(_ context.Context, _ string, request map[string]any, target string) error {
	f.requests = append(f.requests, request)
	f.targets = append(f.targets, target)
	if f.err != nil {
		return f.err
	}
	return f.write(len(f.requests)-1, target)
}

type recordingNotifier struct {
	events []domain.CompileEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.CompileEvent) error {
	n.events = append(n.events, ev)
	return nil
}

func newTestCompiler(t *testing.T, ds dataset.Dataset, f Fetcher, opts ...Option) (*Compiler, string) {
	t.Helper()
	store, err := bundle.NewStore(observability.DiscardLogger())
	require.NoError(t, err)
	scratch := filepath.Join(t.TempDir(), "tmp")
	opts = append([]Option{WithLocation(time.UTC), WithClock(clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))}, opts...)
	return NewCompiler(ds, f, store, scratch, observability.DiscardLogger(), opts...), scratch
}

// TestCompile_SortsOutOfOrderDownloads loads February before January and
// expects the written bundle in calendar order with slices swapped.
func TestCompile_SortsOutOfOrderDownloads(t *testing.T) {
	f := &fakeFetcher{write: func(call int, target string) error {
		if call == 0 {
			return raster.Write(target, era5Grid([]float64{hoursFeb2019}, 20))
		}
		return raster.Write(target, era5Grid([]float64{hoursJan2019}, 10))
	}}
	c, scratch := newTestCompiler(t, dataset.Era5{}, f)
	out := filepath.Join(t.TempDir(), "out.cbor")

	res, err := c.Compile(context.Background(), CompileRequest{
		OutputPath: out, Variables: []string{"tp"}, StartYear: 2018, EndYear: 2019,
	})
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Equal(t, 2, res.Steps)

	b, err := bundle.Read(out)
	require.NoError(t, err)
	assert.Equal(t, []int{201901, 201902}, b.Idx)
	assert.Equal(t, 10.0, b.Variables["tp"].At(0, 0, 0))
	assert.Equal(t, 20.0, b.Variables["tp"].At(1, 0, 0))

	assert.Equal(t, []string{filepath.Join(scratch, "0.nc"), filepath.Join(scratch, "1.nc")}, f.targets)
	_, statErr := os.Stat(scratch)
	assert.True(t, os.IsNotExist(statErr), "scratch removed after compile")
}

func TestCompile_ClampsYearsInRequests(t *testing.T) {
	f := &fakeFetcher{write: func(_ int, target string) error {
		return raster.Write(target, era5Grid([]float64{hoursJan2019}, 1))
	}}
	c, _ := newTestCompiler(t, dataset.Era5{}, f)

	res, err := c.Compile(context.Background(), CompileRequest{
		OutputPath: filepath.Join(t.TempDir(), "out.cbor"), Variables: []string{"tp"}, StartYear: 1950, EndYear: 1979,
	})
	require.NoError(t, err)
	assert.Equal(t, 1978, res.StartYear)
	assert.Equal(t, 1979, res.EndYear)
	require.Len(t, f.requests, 2)
	assert.Equal(t, "1978", f.requests[0]["year"])
	assert.Equal(t, "1979", f.requests[1]["year"])
	assert.Equal(t, []float64{90, -180, -90, 180}, f.requests[0]["area"])
}

func TestCompile_RegionCropsToNearestCells(t *testing.T) {
	shp := filepath.Join(t.TempDir(), "sardinia.shp")
	require.NoError(t, region.Write(shp, "Sardinia", region.Presets["sardinia"]))

	f := &fakeFetcher{write: func(_ int, target string) error {
		return raster.Write(target, era5Grid([]float64{hoursJan2019, hoursFeb2019}, 0))
	}}
	c, _ := newTestCompiler(t, dataset.Era5{}, f)
	out := filepath.Join(t.TempDir(), "out.cbor")

	res, err := c.Compile(context.Background(), CompileRequest{
		OutputPath: out, Variables: []string{"tp"}, StartYear: 2019, EndYear: 2019, RegionPath: shp,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Region)

	area, ok := f.requests[0]["area"].([]float64)
	require.True(t, ok)
	assert.InDelta(t, 41.203210, area[0], 1e-9)

	b, err := bundle.Read(out)
	require.NoError(t, err)
	assert.Equal(t, []float64{41, 40, 39}, b.Lat)
	assert.Equal(t, []float64{8, 9, 10}, b.Lon)
	assert.Equal(t, 3, b.Variables["tp"].Rows)
	assert.Equal(t, 3, b.Variables["tp"].Cols)
}

func TestCompile_NotifiesWrittenBundle(t *testing.T) {
	f := &fakeFetcher{write: func(_ int, target string) error {
		return raster.Write(target, era5Grid([]float64{hoursJan2019, hoursFeb2019}, 0))
	}}
	n := &recordingNotifier{}
	m := observability.NewMetricsForTesting()
	c, _ := newTestCompiler(t, dataset.Era5{}, f, WithNotifier(n), WithMetrics(m))

	res, err := c.Compile(context.Background(), CompileRequest{
		OutputPath: filepath.Join(t.TempDir(), "out.nc"), Variables: []string{"tp"},
		StartYear: 2019, EndYear: 2019, Format: bundle.FormatNetCDF,
	})
	require.NoError(t, err)

	require.Len(t, n.events, 1)
	assert.Equal(t, res.ID, n.events[0].ID)
	assert.Equal(t, "netcdf", n.events[0].Format)
	assert.Equal(t, 201901, n.events[0].FirstIdx)
	assert.Equal(t, 201902, n.events[0].LastIdx)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompilesTotal.WithLabelValues("era5", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BundleSteps.WithLabelValues("era5")))
}

func TestCompile_FetchErrorAbortsAndKeepsScratch(t *testing.T) {
	f := &fakeFetcher{err: errors.New("cds down")}
	n := &recordingNotifier{}
	c, scratch := newTestCompiler(t, dataset.Era5{}, f, WithNotifier(n))
	out := filepath.Join(t.TempDir(), "out.cbor")

	_, err := c.Compile(context.Background(), CompileRequest{
		OutputPath: out, Variables: []string{"tp"}, StartYear: 2018, EndYear: 2019,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cds down")
	assert.Len(t, f.requests, 1, "no retry and no further years")
	assert.Empty(t, n.events)

	_, statErr := os.Stat(scratch)
	assert.NoError(t, statErr)
	_, statErr = os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompile_InvalidRequest(t *testing.T) {
	c, _ := newTestCompiler(t, dataset.Era5{}, &fakeFetcher{})
	_, err := c.Compile(context.Background(), CompileRequest{OutputPath: "x", StartYear: 2019, EndYear: 2019})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Compile(context.Background(), CompileRequest{OutputPath: "x", Variables: []string{"tp"}, StartYear: 2020, EndYear: 2019})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCompile_FailedRunDropsPreviousBundle(t *testing.T) {
	f := &fakeFetcher{write: func(_ int, target string) error {
		return raster.Write(target, era5Grid([]float64{hoursJan2019}, 1))
	}}
	c, _ := newTestCompiler(t, dataset.Era5{}, f)
	req := CompileRequest{
		OutputPath: filepath.Join(t.TempDir(), "out.cbor"), Variables: []string{"tp"}, StartYear: 2019, EndYear: 2019,
	}
	_, err := c.Compile(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, c.Bundle())

	f.err = errors.New("cds down")
	_, err = c.Compile(context.Background(), req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
	assert.Nil(t, c.Bundle())
}

func TestSerializeBeforeAggregate_WritesNothing(t *testing.T) {
	c, _ := newTestCompiler(t, dataset.Era5{}, &fakeFetcher{})
	out := filepath.Join(t.TempDir(), "out.cbor")

	c.Sort()
	written, err := c.Serialize(out, bundle.FormatCBOR)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Nil(t, c.Bundle())

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAggregate_EmptyScratchLeavesNoBundle(t *testing.T) {
	c, _ := newTestCompiler(t, dataset.Era5{}, &fakeFetcher{})
	require.NoError(t, c.CreateScratch())
	require.NoError(t, c.Aggregate([]string{"tp"}, nil))
	assert.Nil(t, c.Bundle())
}

// writeModisArchive packs one single-step MODIS grid per day count into a
// tar.gz at target.
func writeModisArchive(t *testing.T, target string, days ...float64) error {
	t.Helper()
	dir := t.TempDir()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()
	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)

	for _, d := range days {
		date := domain.UnixToDate(domain.DayCountToUnix(int64(d)), time.UTC)
		name := date.Format("20060102") + "-ESACCI-L4_FIRE-BA-MODIS-fv5.1.nc"
		path := filepath.Join(dir, name)
		if err := raster.Write(path, raster.Grid{
			Lat:    []float64{40, 39},
			Lon:    []float64{8, 9},
			Time:   []float64{d},
			Layers: []raster.Layer{{Name: "burned_area", Data: []float64{d, d, d, d}}},
		}); err != nil {
			return err
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			return err
		}
		if _, err := tw.Write(body); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func TestCompile_ModisUnpacksAndSortsByUnixTime(t *testing.T) {
	// 2019-02-01 then 2019-01-01, so sorting is required.
	f := &fakeFetcher{write: func(_ int, target string) error {
		return writeModisArchive(t, target, 17928, 17897)
	}}
	c, scratch := newTestCompiler(t, dataset.Modis{}, f)
	out := filepath.Join(t.TempDir(), "burned.cbor.zst")

	_, err := c.Compile(context.Background(), CompileRequest{
		OutputPath: out, Variables: []string{"burned_area"}, StartYear: 2019, EndYear: 2019,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(scratch, dataset.ModisArchive)}, f.targets)
	assert.Equal(t, "2024-03-01 12:00:00", f.requests[0]["anon_user_timestamp"])

	b, err := bundle.Read(out)
	require.NoError(t, err)
	assert.Equal(t, []int64{1546300800, 1548979200}, b.UnixTime)
	assert.Equal(t, []int{201901, 201902}, b.Idx)
	assert.Equal(t, 17897.0, b.Variables["burned_area"].At(0, 0, 0))
}
