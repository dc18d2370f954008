package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"go.ngs.io/climate-compiler/internal/adapter/region"
	"go.ngs.io/climate-compiler/internal/adapter/store/bundle"
	"go.ngs.io/climate-compiler/internal/dataset"
	"go.ngs.io/climate-compiler/internal/domain"
	"go.ngs.io/climate-compiler/internal/overlay"
	"go.ngs.io/climate-compiler/internal/usecase"
)

// DefaultZoom is the slippy-map zoom used when the overlay request has none.
const DefaultZoom = 7

const maxZoom = 12

// CompileRunner runs one compile for a dataset.
type CompileRunner interface {
	Compile(ctx context.Context, req usecase.CompileRequest) (usecase.CompileResult, error)
}

// Handler handles HTTP requests for compiles and stored bundles.
type Handler struct {
	compilers map[string]CompileRunner
	inspector *usecase.Inspector
	tiles     overlay.TileComposer
	outputDir string
	clock     clockwork.Clock
	logger    *slog.Logger

	// mu serializes compiles; every compiler owns a scratch directory that
	// a second run would wipe.
	mu sync.Mutex
}

// NewHandler creates a new HTTP handler. compilers is keyed by dataset name.
func NewHandler(compilers map[string]CompileRunner, inspector *usecase.Inspector, tiles overlay.TileComposer,
	outputDir string, clock clockwork.Clock, logger *slog.Logger) *Handler {
	return &Handler{
		compilers: compilers,
		inspector: inspector,
		tiles:     tiles,
		outputDir: outputDir,
		clock:     clock,
		logger:    logger,
	}
}

// CompileBody is the JSON body of POST /v1/compile.
type CompileBody struct {
	Dataset   string              `json:"dataset" binding:"required"`
	Output    string              `json:"output" binding:"required"`
	Variables []string            `json:"variables" binding:"required,min=1"`
	StartYear int                 `json:"start_year" binding:"required"`
	EndYear   int                 `json:"end_year" binding:"required"`
	Format    string              `json:"format"`
	Region    *domain.BoundingBox `json:"region"`
}

// PostCompile handles POST /v1/compile. The compile runs synchronously and
// the response carries the job id and the written path.
func (h *Handler) PostCompile(c *gin.Context) {
	var body CompileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %v", err)})
		return
	}

	compiler, ok := h.compilers[body.Dataset]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%v: %q", dataset.ErrUnknownDataset, body.Dataset)})
		return
	}
	name, err := bundleName(body.Output)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	format, err := bundle.ParseFormat(body.Format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := usecase.CompileRequest{
		OutputPath: filepath.Join(h.outputDir, name),
		Variables:  body.Variables,
		StartYear:  body.StartYear,
		EndYear:    body.EndYear,
		Format:     format,
	}
	if body.Region != nil {
		path, cleanup, err := writeRegion(*body.Region)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer cleanup()
		req.RegionPath = path
	}

	h.mu.Lock()
	res, err := compiler.Compile(c.Request.Context(), req)
	h.mu.Unlock()
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, usecase.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"id": res.ID, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetDatasets handles GET /v1/datasets.
func (h *Handler) GetDatasets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"datasets": dataset.Describe()})
}

// GetSample handles GET /v1/bundles/:name/sample.
func (h *Handler) GetSample(c *gin.Context) {
	path, ok := h.bundlePath(c)
	if !ok {
		return
	}
	variable := c.Query("variable")
	if variable == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variable parameter is required"})
		return
	}
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid latitude: %v", err)})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid longitude: %v", err)})
		return
	}

	resp, err := h.inspector.Sample(path, variable, lat, lon)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetOverlay handles GET /v1/bundles/:name/overlay and returns a PNG.
func (h *Handler) GetOverlay(c *gin.Context) {
	path, ok := h.bundlePath(c)
	if !ok {
		return
	}
	variable := c.Query("variable")
	if variable == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variable parameter is required"})
		return
	}
	zoom := DefaultZoom
	if z := c.Query("zoom"); z != "" {
		v, err := strconv.Atoi(z)
		if err != nil || v < 0 || v > maxZoom {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("zoom must be an integer in [0, %d]", maxZoom)})
			return
		}
		zoom = v
	}
	opts := overlay.DefaultDataOptions()
	if m := c.Query("mode"); m != "" {
		opts.Mode = overlay.Reduction(m)
	}
	if cm := c.Query("colormap"); cm != "" {
		opts.Colormap = cm
	}
	opts.Suffix = " (" + string(opts.Mode) + ")"

	b, err := h.inspector.Load(path)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	p := overlay.NewPlotter(h.tiles, zoom, h.logger)
	if err := p.Render(c.Request.Context(), b, variable, opts); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) bundlePath(c *gin.Context) (string, bool) {
	name, err := bundleName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return filepath.Join(h.outputDir, name), true
}

// bundleName accepts plain file names only, keeping requests inside the
// output directory.
func bundleName(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid bundle name %q", name)
	}
	return name, nil
}

// writeRegion stores bbox as a one-polygon shapefile in a temporary
// directory, so the compile resolves it like any other region file.
func writeRegion(bbox domain.BoundingBox) (string, func(), error) {
	if bbox.LatMin >= bbox.LatMax || bbox.LonMin >= bbox.LonMax {
		return "", nil, fmt.Errorf("invalid region %s", bbox)
	}
	dir, err := os.MkdirTemp("", "region-*")
	if err != nil {
		return "", nil, fmt.Errorf("create region dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	path := filepath.Join(dir, "region.shp")
	ring := region.Rectangle(bbox.LonMin, bbox.LatMin, bbox.LonMax, bbox.LatMax)
	if err := region.Write(path, "request", ring); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoBundle):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
