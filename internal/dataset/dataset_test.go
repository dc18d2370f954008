package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/climate-compiler/internal/domain"
)

func TestLookup(t *testing.T) {
	ds, err := Lookup("era5")
	require.NoError(t, err)
	assert.Equal(t, "reanalysis-era5-single-levels-monthly-means", ds.Descriptor())

	_, err = Lookup("landsat")
	assert.ErrorIs(t, err, ErrUnknownDataset)
}

func TestEra5Request_ClampsYearAndUsesRegion(t *testing.T) {
	bbox := &domain.BoundingBox{LatMin: 38.8, LatMax: 41.2, LonMin: 8.0, LonMax: 10.0}
	req := Era5{}.Request(1950, bbox, time.Time{})

	assert.Equal(t, "1978", req["year"])
	assert.Equal(t, []float64{41.2, 8.0, 38.8, 10.0}, req["area"])
	assert.Equal(t, "netcdf", req["format"])
	assert.Equal(t, "00:00", req["time"])
	assert.Len(t, req["month"], 12)
	assert.Len(t, req["variable"], 11)
}

func TestEra5Request_GlobalWithoutRegion(t *testing.T) {
	req := Era5{}.Request(2030, nil, time.Time{})
	assert.Equal(t, "2022", req["year"])
	assert.Equal(t, []float64{90, -180, -90, 180}, req["area"])
}

func TestModisRequest(t *testing.T) {
	now := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	req := Modis{}.Request(2000, nil, now)

	assert.Equal(t, "2001", req["year"])
	assert.Equal(t, "tgz", req["format"])
	assert.Equal(t, "5_1_1cds", req["version"])
	assert.Equal(t, "01", req["nominal_day"])
	assert.Equal(t, "2023-05-06 07:08:09", req["anon_user_timestamp"])
	assert.NotContains(t, req, "area")
}

func TestTargets(t *testing.T) {
	assert.Equal(t, "tmp/3.nc", Era5{}.Target("tmp", 3))
	assert.Equal(t, "tmp/tmp.tar.gz", Modis{}.Target("tmp", 3))
}

func TestDecodeTimes(t *testing.T) {
	era := Era5{}.DecodeTimes([]float64{1043136, 1043880}, nil)
	require.Len(t, era, 2)
	assert.Equal(t, 201901, domain.MonthKey(era[0].Date))
	assert.Equal(t, 201902, domain.MonthKey(era[1].Date))

	modis := Modis{}.DecodeTimes([]float64{17897}, time.UTC)
	require.Len(t, modis, 1)
	assert.Equal(t, int64(1546300800), modis[0].Unix)
	assert.Equal(t, 201901, domain.MonthKey(modis[0].Date))
}

func TestDescribe(t *testing.T) {
	infos := Describe()
	require.Len(t, infos, 2)
	assert.Equal(t, "era5", infos[0].Name)
	assert.Equal(t, 1978, infos[0].MinYear)
	assert.Equal(t, "modis", infos[1].Name)
	assert.Equal(t, "unixtime", infos[1].SortKey)
}
