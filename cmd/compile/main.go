// Command compile fetches a dataset from the Climate Data Store for a range
// of years, aggregates it into one time-sorted bundle and writes it to disk.
//
// Usage:
//
//	compile -dataset era5 -vars tp,t2m -start 2018 -end 2019 \
//	  -region data/regions/sardinia.shp -out data/bundles/sardinia.cbor
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"

	"go.ngs.io/climate-compiler/internal/adapter/cds"
	"go.ngs.io/climate-compiler/internal/adapter/kafka"
	"go.ngs.io/climate-compiler/internal/adapter/store/bundle"
	"go.ngs.io/climate-compiler/internal/config"
	"go.ngs.io/climate-compiler/internal/dataset"
	"go.ngs.io/climate-compiler/internal/observability"
	"go.ngs.io/climate-compiler/internal/usecase"
)

func main() {
	name := flag.String("dataset", "era5", "dataset to compile (era5, modis)")
	vars := flag.String("vars", "", "comma-separated variables (default: all the dataset provides)")
	start := flag.Int("start", 0, "first year (clamped to the dataset range)")
	end := flag.Int("end", 0, "last year (clamped to the dataset range)")
	regionPath := flag.String("region", "", "polygon shapefile restricting the extent (optional)")
	out := flag.String("out", "", "output bundle path (.cbor, .cbor.zst or .nc)")
	format := flag.String("format", "", "output format: cbor or netcdf (default: from extension)")
	flag.Parse()

	if *out == "" {
		fmt.Fprintln(os.Stderr, "compile: -out is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger, *name, *vars, *start, *end, *regionPath, *out, *format); err != nil {
		logger.Error("compile failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, name, vars string, start, end int, regionPath, out, format string) error {
	ds, err := dataset.Lookup(name)
	if err != nil {
		return err
	}
	if start == 0 && end == 0 {
		start, end = ds.YearRange()
	}
	variables := ds.Variables()
	if vars != "" {
		variables = strings.Split(vars, ",")
	}

	f := bundle.Format(format)
	if format == "" {
		f = formatFromPath(out)
	}
	f, err = bundle.ParseFormat(string(f))
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	client, err := cds.NewClient(cfg.CDSURL, cfg.CDSKey, &http.Client{}, clock, logger, nil)
	if err != nil {
		return err
	}
	store, err := bundle.NewStore(logger)
	if err != nil {
		return err
	}

	opts := []usecase.Option{usecase.WithClock(clock), usecase.WithLocation(cfg.Location)}
	if cfg.KafkaEnabled() {
		notifier := kafka.NewNotifier(cfg, logger, nil)
		defer notifier.Close()
		opts = append(opts, usecase.WithNotifier(notifier))
	}
	compiler := usecase.NewCompiler(ds, client, store, cfg.ScratchDir, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := compiler.Compile(ctx, usecase.CompileRequest{
		OutputPath: out,
		Variables:  variables,
		StartYear:  start,
		EndYear:    end,
		RegionPath: regionPath,
		Format:     f,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func formatFromPath(path string) bundle.Format {
	if strings.HasSuffix(strings.ToLower(path), ".nc") {
		return bundle.FormatNetCDF
	}
	return bundle.FormatCBOR
}
