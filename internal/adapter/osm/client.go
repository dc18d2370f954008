// Package osm fetches and stitches OpenStreetMap slippy-map tiles.
package osm

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // some tile servers answer with JPEG
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"

	"go.ngs.io/climate-compiler/internal/observability"
)

// TileSize is the edge length of a slippy-map tile in pixels.
const TileSize = 256

// Tile identifies one slippy-map tile.
type Tile struct {
	X, Y, Z int
}

// TileRange is the inclusive block of tiles covering a composed image.
type TileRange struct {
	XMin, XMax int
	YMin, YMax int
	Zoom       int
}

// Cols returns the number of tile columns.
func (r TileRange) Cols() int { return r.XMax - r.XMin + 1 }

// Rows returns the number of tile rows.
func (r TileRange) Rows() int { return r.YMax - r.YMin + 1 }

// TileForCoord projects a WGS84 coordinate to the tile containing it
// (EPSG:4326 to EPSG:3857 slippy numbering).
func TileForCoord(lat, lon float64, zoom int) Tile {
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180
	x := int((lon + 180) / 360 * n)
	y := int((1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n)
	return Tile{X: x, Y: y, Z: zoom}
}

// Client downloads tiles from a {z}/{x}/{y} URL template.
type Client struct {
	urlTemplate string
	userAgent   string
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewClient creates a tile client.
func NewClient(urlTemplate, userAgent string, httpClient *http.Client, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		urlTemplate: urlTemplate,
		userAgent:   userAgent,
		httpClient:  httpClient,
		logger:      logger,
		metrics:     metrics,
	}
}

// TileURL expands the template for t.
func (c *Client) TileURL(t Tile) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	)
	return r.Replace(c.urlTemplate)
}

// FetchTile downloads and decodes one tile.
func (c *Client) FetchTile(ctx context.Context, t Tile) (image.Image, error) {
	img, err := c.fetchTile(ctx, t)
	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.TilesFetched.WithLabelValues(outcome).Inc()
	}
	return img, err
}

func (c *Client) fetchTile(ctx context.Context, t Tile) (image.Image, error) {
	u := c.TileURL(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tile %d/%d/%d: status %d: %s", t.Z, t.X, t.Y, resp.StatusCode, body)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	c.logger.Debug("tile fetched", "url", u)
	return img, nil
}

// Compose fetches every tile covering the box anchored at (lat0, lon0) with
// extent (dLat, dLon) and pastes each at its tile offset. Tiles are fetched
// one after another and the first failure aborts composition.
func (c *Client) Compose(ctx context.Context, lat0, lon0, dLat, dLon float64, zoom int) (*image.RGBA, TileRange, error) {
	sw := TileForCoord(lat0, lon0, zoom)
	ne := TileForCoord(lat0+dLat, lon0+dLon, zoom)
	r := TileRange{
		XMin: min(sw.X, ne.X), XMax: max(sw.X, ne.X),
		YMin: min(sw.Y, ne.Y), YMax: max(sw.Y, ne.Y),
		Zoom: zoom,
	}

	canvas := image.NewRGBA(image.Rect(0, 0, r.Cols()*TileSize, r.Rows()*TileSize))
	for x := r.XMin; x <= r.XMax; x++ {
		for y := r.YMin; y <= r.YMax; y++ {
			tile, err := c.FetchTile(ctx, Tile{X: x, Y: y, Z: zoom})
			if err != nil {
				return nil, r, err
			}
			at := image.Pt((x-r.XMin)*TileSize, (y-r.YMin)*TileSize)
			xdraw.Copy(canvas, at, tile, tile.Bounds(), draw.Src, nil)
		}
	}
	c.logger.Info("base map composed", "tiles", r.Cols()*r.Rows(), "zoom", zoom,
		"width", canvas.Bounds().Dx(), "height", canvas.Bounds().Dy())
	return canvas, r, nil
}
