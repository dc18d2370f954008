package region

import (
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/climate-compiler/internal/domain"
)

func TestResolve_Sardinia(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sardinia.shp")
	require.NoError(t, Write(path, "Sardinia", Presets["sardinia"]))

	bbox, err := Resolve(path)
	require.NoError(t, err)

	assert.InDelta(t, 38.818011, bbox.LatMin, 1e-9)
	assert.InDelta(t, 41.203210, bbox.LatMax, 1e-9)
	assert.InDelta(t, 8.067428, bbox.LonMin, 1e-9)
	assert.InDelta(t, 9.993755, bbox.LonMax, 1e-9)
}

func TestResolve_LastFeatureWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two.shp")
	enc, err := shp.NewEncoder(path, feature{})
	require.NoError(t, err)
	require.NoError(t, enc.Encode(feature{Polygon: geom.Polygon{Rectangle(0, 0, 1, 1)}, Name: "first"}))
	require.NoError(t, enc.Encode(feature{Polygon: geom.Polygon{Rectangle(10, 20, 12, 25)}, Name: "second"}))
	enc.Close()

	bbox, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, domain.BoundingBox{LatMin: 20, LatMax: 25, LonMin: 10, LonMax: 12}, *bbox)
}

func TestResolve_MissingFile(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.shp"))
	assert.Error(t, err)
}

func TestRingBounds_Empty(t *testing.T) {
	_, err := RingBounds(nil)
	assert.ErrorIs(t, err, ErrNoPolygon)
}

func TestWrite_RejectsDegenerateRing(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "bad.shp"), "bad", geom.Path{{X: 0, Y: 0}})
	assert.Error(t, err)
}
