// Command overlay renders one variable of a stored bundle on top of
// OpenStreetMap tiles and writes the figure as PNG.
//
// Usage:
//
//	overlay -bundle data/bundles/sardinia.cbor -var tp -mode sum -out tp.png
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"net/http"
	"os"

	"go.ngs.io/climate-compiler/internal/adapter/osm"
	"go.ngs.io/climate-compiler/internal/adapter/region"
	"go.ngs.io/climate-compiler/internal/adapter/store/bundle"
	"go.ngs.io/climate-compiler/internal/config"
	"go.ngs.io/climate-compiler/internal/observability"
	"go.ngs.io/climate-compiler/internal/overlay"
)

func main() {
	bundlePath := flag.String("bundle", "", "bundle to plot (.cbor or .cbor.zst)")
	variable := flag.String("var", "", "variable to plot")
	out := flag.String("out", "overlay.png", "output PNG path")
	zoom := flag.Int("zoom", 7, "slippy-map zoom level")
	mode := flag.String("mode", string(overlay.ReduceSum), "time reduction: sum or mean")
	cmap := flag.String("colormap", "Reds", "ColorBrewer palette name")
	alpha := flag.Float64("alpha", 1, "fill opacity scale")
	byValue := flag.Bool("alpha-by-value", true, "scale opacity by |value/max|")
	regionPath := flag.String("region", "", "shapefile whose box frames the map (default: bundle extent)")
	alignment := flag.Bool("alignment", false, "mark grid points and cell outlines")
	flag.Parse()

	if *bundlePath == "" || *variable == "" {
		fmt.Fprintln(os.Stderr, "overlay: -bundle and -var are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	opts := overlay.DataOptions{
		Colormap:     *cmap,
		Alpha:        *alpha,
		Mode:         overlay.Reduction(*mode),
		AlphaByValue: *byValue,
		Suffix:       " (" + *mode + ")",
	}
	if err := run(context.Background(), cfg, logger, *bundlePath, *variable, *regionPath, *zoom, *alignment, opts, *out); err != nil {
		logger.Error("overlay failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, bundlePath, variable, regionPath string,
	zoom int, alignment bool, opts overlay.DataOptions, out string) error {
	b, err := bundle.Read(bundlePath)
	if err != nil {
		return err
	}

	frame := overlay.BundleBounds(b)
	if regionPath != "" {
		r, err := region.Resolve(regionPath)
		if err != nil {
			return err
		}
		frame = *r
	}

	tiles := osm.NewClient(cfg.TileURL, cfg.TileUserAgent, &http.Client{Timeout: cfg.HTTPTimeout}, logger, nil)
	p := overlay.NewPlotter(tiles, zoom, logger)
	if err := p.PlotBaseMap(ctx, frame); err != nil {
		return err
	}
	if err := p.PlotRegion(); err != nil {
		return err
	}
	if err := p.PlotData(b, variable, opts); err != nil {
		return err
	}
	if alignment {
		if err := p.PlotDataAlignment(b, color.RGBA{B: 200, A: 255}); err != nil {
			return err
		}
	}
	logger.Info("overlay rendered", "variable", variable, "frame", frame.String(), "steps", b.Steps(), "dataset", b.Dataset)
	return p.Save(out)
}
