package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthDate(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// TestSortChronologically_SwapsTwoSteps loads 201902 before 201901 and
// expects the slices to come back swapped.
func TestSortChronologically_SwapsTwoSteps(t *testing.T) {
	b := NewBundle("era5", SortByIdx)
	b.Lat = []float64{1}
	b.Lon = []float64{1, 2}

	cube := NewCube(1, 2)
	require.NoError(t, cube.Append([]float64{20, 21}, 1))
	require.NoError(t, cube.Append([]float64{10, 11}, 1))
	b.SetVariable("tp", cube)
	b.AppendStep(monthDate(2019, time.February))
	b.AppendStep(monthDate(2019, time.January))
	require.NoError(t, b.Validate())

	b.SortChronologically()

	assert.Equal(t, []int{201901, 201902}, b.Idx)
	assert.Equal(t, []int{1, 2}, b.Month)
	assert.Equal(t, []int{2019, 2019}, b.Year)
	assert.Equal(t, []float64{10, 11}, b.Variables["tp"].Slice(0))
	assert.Equal(t, []float64{20, 21}, b.Variables["tp"].Slice(1))
	assert.Equal(t, []float64{1, 2}, b.Lon, "static coordinates must not move")
}

func TestSortChronologically_PairedScramble(t *testing.T) {
	b := NewBundle("era5", SortByIdx)
	b.Lat = []float64{0}
	b.Lon = []float64{0}
	keys := []time.Month{time.May, time.January, time.March, time.February, time.April}
	cube := NewCube(1, 1)
	for _, m := range keys {
		require.NoError(t, cube.Append([]float64{float64(m)}, 1))
		b.AppendStep(monthDate(2020, m))
	}
	b.SetVariable("t2m", cube)

	perm := b.SortPermutation()
	b.SortChronologically()

	for i := 1; i < len(b.Idx); i++ {
		assert.LessOrEqual(t, b.Idx[i-1], b.Idx[i])
	}
	for k, src := range perm {
		assert.Equal(t, float64(keys[src]), b.Variables["t2m"].At(k, 0, 0))
		assert.Equal(t, int(keys[src]), b.Month[k])
	}
}

func TestSortChronologically_StableOnTies(t *testing.T) {
	b := NewBundle("modis", SortByUnixTime)
	b.Lat = []float64{0}
	b.Lon = []float64{0}
	cube := NewCube(1, 1)
	for i, sec := range []int64{100, 50, 100, 50} {
		require.NoError(t, cube.Append([]float64{float64(i)}, 1))
		b.UnixTime = append(b.UnixTime, sec)
		b.AppendStep(time.Unix(sec, 0).UTC())
	}
	b.SetVariable("burned_area", cube)

	b.SortChronologically()

	assert.Equal(t, []int64{50, 50, 100, 100}, b.UnixTime)
	assert.Equal(t, []float64{1, 3, 0, 2}, b.Variables["burned_area"].Data)
}

func TestBundleValidate_DetectsMismatch(t *testing.T) {
	b := NewBundle("era5", SortByIdx)
	b.Lat = []float64{0, 1}
	b.Lon = []float64{0}
	cube := NewCube(2, 1)
	require.NoError(t, cube.Append([]float64{1, 2}, 1))
	b.SetVariable("tp", cube)

	err := b.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tp has 1 steps, expected 0")
}

func TestCubeAppend_RejectsWrongSize(t *testing.T) {
	c := NewCube(2, 2)
	assert.Error(t, c.Append([]float64{1, 2, 3}, 1))
	assert.Equal(t, 0, c.Steps)
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, 201812, MonthKey(monthDate(2018, time.December)))
	assert.Equal(t, 200001, MonthKey(monthDate(2000, time.January)))
}
