package osm

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/climate-compiler/internal/observability"
)

func TestTileForCoord(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		zoom     int
		want     Tile
	}{
		{"origin zoom 0", 0, 0, 0, Tile{0, 0, 0}},
		{"null island zoom 1", 0.1, 0.1, 1, Tile{1, 0, 1}},
		{"sardinia zoom 7", 41.203210, 8.067428, 7, Tile{66, 47, 7}},
		{"sardinia south-east zoom 7", 38.818011, 9.993755, 7, Tile{67, 49, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TileForCoord(tt.lat, tt.lon, tt.zoom))
		})
	}
}

// tileServer answers every tile with a solid colour derived from x and y.
func tileServer(t *testing.T, hits *atomic.Int32, failAt string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "climate-compiler-test", r.Header.Get("User-Agent"))
		if r.URL.Path == failAt {
			http.Error(w, "nope", http.StatusForbidden)
			return
		}
		var z, x, y int
		_, err := fmt.Sscanf(r.URL.Path, "/%d/%d/%d.png", &z, &x, &y)
		require.NoError(t, err)

		img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
		c := color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255}
		for i := 0; i < TileSize; i++ {
			for j := 0; j < TileSize; j++ {
				img.Set(i, j, c)
			}
		}
		w.Header().Set("Content-Type", "image/png")
		require.NoError(t, png.Encode(w, img))
	}))
}

func TestCompose_PastesTilesAtOffsets(t *testing.T) {
	var hits atomic.Int32
	srv := tileServer(t, &hits, "")
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	c := NewClient(srv.URL+"/{z}/{x}/{y}.png", "climate-compiler-test", srv.Client(), observability.DiscardLogger(), m)

	img, r, err := c.Compose(context.Background(), 38.818011, 8.067428, 41.203210-38.818011, 9.993755-8.067428, 7)
	require.NoError(t, err)

	assert.Equal(t, TileRange{XMin: 66, XMax: 67, YMin: 47, YMax: 49, Zoom: 7}, r)
	assert.Equal(t, image.Rect(0, 0, 512, 768), img.Bounds())
	assert.Equal(t, int32(6), hits.Load())
	assert.Equal(t, 6.0, testutil.ToFloat64(m.TilesFetched.WithLabelValues("success")))

	assert.Equal(t, color.RGBA{R: 66, G: 47, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 67, G: 47, A: 255}, img.RGBAAt(256, 0))
	assert.Equal(t, color.RGBA{R: 66, G: 48, A: 255}, img.RGBAAt(0, 256))
	assert.Equal(t, color.RGBA{R: 67, G: 49, A: 255}, img.RGBAAt(511, 767))
}

func TestCompose_AbortsOnFailedTile(t *testing.T) {
	var hits atomic.Int32
	srv := tileServer(t, &hits, "/7/66/48.png")
	defer srv.Close()

	m := observability.NewMetricsForTesting()
	c := NewClient(srv.URL+"/{z}/{x}/{y}.png", "climate-compiler-test", srv.Client(), observability.DiscardLogger(), m)

	_, _, err := c.Compose(context.Background(), 38.818011, 8.067428, 2.385199, 1.926327, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Equal(t, int32(2), hits.Load(), "composition stops at the first failure")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TilesFetched.WithLabelValues("error")))
}

func TestTileURL(t *testing.T) {
	c := NewClient("https://a.tile.openstreetmap.org/{z}/{x}/{y}.png", "", nil, observability.DiscardLogger(), nil)
	assert.Equal(t, "https://a.tile.openstreetmap.org/10/545/387.png", c.TileURL(Tile{X: 545, Y: 387, Z: 10}))
}
