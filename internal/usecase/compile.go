// Package usecase orchestrates compiles and bundle inspection.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"go.ngs.io/climate-compiler/internal/adapter/archive"
	"go.ngs.io/climate-compiler/internal/adapter/region"
	"go.ngs.io/climate-compiler/internal/adapter/store/bundle"
	"go.ngs.io/climate-compiler/internal/dataset"
	"go.ngs.io/climate-compiler/internal/domain"
	"go.ngs.io/climate-compiler/internal/observability"
)

// Fetcher retrieves one CDS request into target.
type Fetcher interface {
	Retrieve(ctx context.Context, dataset string, request map[string]any, target string) error
}

// BundleWriter persists a bundle. A nil bundle must be a logged no-op.
type BundleWriter interface {
	Write(path string, b *domain.Bundle, format bundle.Format) error
}

// Notifier announces finished compiles.
type Notifier interface {
	Notify(ctx context.Context, ev domain.CompileEvent) error
}

// ErrInvalidRequest marks compile requests rejected before any work starts.
var ErrInvalidRequest = errors.New("invalid compile request")

// CompileRequest describes one compile run.
type CompileRequest struct {
	OutputPath string
	Variables  []string
	StartYear  int
	EndYear    int
	// RegionPath is an optional polygon shapefile restricting the extent.
	RegionPath string
	Format     bundle.Format
}

// Validate checks the request before any work starts.
func (r CompileRequest) Validate() error {
	if r.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidRequest)
	}
	if len(r.Variables) == 0 {
		return fmt.Errorf("%w: at least one variable is required", ErrInvalidRequest)
	}
	if r.StartYear > r.EndYear {
		return fmt.Errorf("%w: start year %d is after end year %d", ErrInvalidRequest, r.StartYear, r.EndYear)
	}
	return nil
}

// CompileResult summarizes a compile run.
type CompileResult struct {
	ID         string              `json:"id"`
	Dataset    string              `json:"dataset"`
	OutputPath string              `json:"output_path"`
	Written    bool                `json:"written"`
	Steps      int                 `json:"steps"`
	StartYear  int                 `json:"start_year"`
	EndYear    int                 `json:"end_year"`
	Region     *domain.BoundingBox `json:"region,omitempty"`
	Duration   time.Duration       `json:"-"`
}

// Option customizes a Compiler.
type Option func(*Compiler)

// WithNotifier publishes an event after every written bundle.
func WithNotifier(n Notifier) Option { return func(c *Compiler) { c.notifier = n } }

// WithClock replaces the wall clock used for request timestamps and metrics.
func WithClock(clock clockwork.Clock) Option { return func(c *Compiler) { c.clock = clock } }

// WithLocation sets the zone used to resolve day-count timestamps.
func WithLocation(loc *time.Location) Option { return func(c *Compiler) { c.loc = loc } }

// WithMetrics records compile metrics.
func WithMetrics(m *observability.Metrics) Option { return func(c *Compiler) { c.metrics = m } }

// Compiler runs the fetch, aggregate, sort and write pipeline for a
// single dataset. It is not safe for concurrent use; the scratch directory
// is shared state.
type Compiler struct {
	ds       dataset.Dataset
	fetcher  Fetcher
	writer   BundleWriter
	notifier Notifier
	scratch  string
	clock    clockwork.Clock
	loc      *time.Location
	logger   *slog.Logger
	metrics  *observability.Metrics

	counter int
	bundle  *domain.Bundle
}

// NewCompiler creates a compiler for ds writing scratch files under scratch.
func NewCompiler(ds dataset.Dataset, fetcher Fetcher, writer BundleWriter, scratch string, logger *slog.Logger, opts ...Option) *Compiler {
	c := &Compiler{
		ds:      ds,
		fetcher: fetcher,
		writer:  writer,
		scratch: scratch,
		clock:   clockwork.NewRealClock(),
		loc:     time.Local,
		logger:  logger.With("dataset", ds.Name()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bundle returns the most recently aggregated bundle, or nil.
func (c *Compiler) Bundle() *domain.Bundle { return c.bundle }

// Compile fetches every year of the clamped timeframe, aggregates the
// scratch files, sorts the result and writes it to req.OutputPath. The
// scratch directory is removed afterwards on success.
func (c *Compiler) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	start := c.clock.Now()
	res, err := c.compile(ctx, req)
	res.Duration = c.clock.Since(start)
	if c.metrics != nil {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case !res.Written:
			outcome = "empty"
		}
		c.metrics.CompilesTotal.WithLabelValues(c.ds.Name(), outcome).Inc()
		c.metrics.CompileDuration.WithLabelValues(c.ds.Name()).Observe(res.Duration.Seconds())
		if err == nil {
			c.metrics.BundleSteps.WithLabelValues(c.ds.Name()).Set(float64(res.Steps))
		}
	}
	if err != nil {
		c.logger.Error("compile failed", "id", res.ID, "error", err)
		return res, err
	}

	if res.Written && c.notifier != nil {
		if nerr := c.notifier.Notify(ctx, c.event(req, res)); nerr != nil {
			c.logger.Warn("compile notification failed", "id", res.ID, "error", nerr)
		}
	}
	return res, nil
}

func (c *Compiler) compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	res := CompileResult{ID: uuid.NewString(), Dataset: c.ds.Name(), OutputPath: req.OutputPath}
	if err := req.Validate(); err != nil {
		return res, err
	}

	if err := c.CreateScratch(); err != nil {
		return res, err
	}

	var bbox *domain.BoundingBox
	if req.RegionPath != "" {
		b, err := region.Resolve(req.RegionPath)
		if err != nil {
			return res, fmt.Errorf("resolve region: %w", err)
		}
		bbox = b
		res.Region = b
	}

	minYear, maxYear := c.ds.YearRange()
	res.StartYear, res.EndYear = domain.ClampTimeframe(req.StartYear, req.EndYear, minYear, maxYear)
	c.logger.Info("compile started", "id", res.ID, "start_year", res.StartYear, "end_year", res.EndYear, "variables", req.Variables)

	for year := res.StartYear; year <= res.EndYear; year++ {
		if err := c.Fetch(ctx, year, bbox); err != nil {
			return res, err
		}
	}

	if err := c.Aggregate(req.Variables, bbox); err != nil {
		return res, err
	}
	c.Sort()

	written, err := c.Serialize(req.OutputPath, req.Format)
	if err != nil {
		return res, err
	}
	res.Written = written
	if c.bundle != nil {
		res.Steps = c.bundle.Steps()
	}

	c.DeleteScratch()
	c.logger.Info("compile finished", "id", res.ID, "output", req.OutputPath, "written", written, "steps", res.Steps)
	return res, nil
}

// CreateScratch recreates an empty scratch directory, resets the download
// counter and drops the bundle of any earlier run.
func (c *Compiler) CreateScratch() error {
	c.DeleteScratch()
	c.bundle = nil
	if err := os.MkdirAll(c.scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	c.counter = 0
	return nil
}

// DeleteScratch removes the scratch directory, ignoring errors.
func (c *Compiler) DeleteScratch() {
	_ = os.RemoveAll(c.scratch)
}

// Fetch retrieves one year into the scratch directory and unpacks it when
// the dataset delivers archives.
func (c *Compiler) Fetch(ctx context.Context, year int, bbox *domain.BoundingBox) error {
	target := c.ds.Target(c.scratch, c.counter)
	request := c.ds.Request(year, bbox, c.clock.Now())
	if err := c.fetcher.Retrieve(ctx, c.ds.Descriptor(), request, target); err != nil {
		return fmt.Errorf("fetch %d: %w", year, err)
	}
	c.counter++

	if c.ds.Unpacks() {
		files, err := archive.Unpack(target, c.scratch)
		if err != nil {
			return fmt.Errorf("unpack %d: %w", year, err)
		}
		c.logger.Info("archive unpacked", "year", year, "files", len(files))
	}
	return nil
}

// Aggregate builds the bundle from the current scratch files.
func (c *Compiler) Aggregate(variables []string, bbox *domain.BoundingBox) error {
	files, err := scratchFiles(c.scratch)
	if err != nil {
		return err
	}
	b, err := Aggregate(c.ds, files, variables, bbox, c.loc, c.logger)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if b == nil {
		c.logger.Warn("no scratch files to aggregate", "scratch", c.scratch)
	}
	c.bundle = b
	return nil
}

// Sort orders the bundle chronologically. Without a bundle it only logs.
func (c *Compiler) Sort() {
	if c.bundle == nil {
		c.logger.Warn("nothing to sort")
		return
	}
	c.bundle.SortChronologically()
}

// Serialize writes the bundle and reports whether a file was produced.
func (c *Compiler) Serialize(path string, format bundle.Format) (bool, error) {
	if err := c.writer.Write(path, c.bundle, format); err != nil {
		return false, fmt.Errorf("write bundle: %w", err)
	}
	return c.bundle != nil, nil
}

func (c *Compiler) event(req CompileRequest, res CompileResult) domain.CompileEvent {
	ev := domain.CompileEvent{
		ID:         res.ID,
		Dataset:    res.Dataset,
		OutputPath: res.OutputPath,
		Format:     string(req.Format),
		Variables:  req.Variables,
		StartYear:  res.StartYear,
		EndYear:    res.EndYear,
		Region:     res.Region,
		Steps:      res.Steps,
		Duration:   res.Duration.Seconds(),
		FinishedAt: c.clock.Now().UTC(),
	}
	if ev.Format == "" {
		ev.Format = string(bundle.FormatCBOR)
	}
	if b := c.bundle; b != nil && b.Steps() > 0 {
		ev.FirstIdx = b.Idx[0]
		ev.LastIdx = b.Idx[b.Steps()-1]
	}
	return ev
}
