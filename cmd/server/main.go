// Package main provides the climate compiler HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"go.ngs.io/climate-compiler/internal/adapter/cds"
	"go.ngs.io/climate-compiler/internal/adapter/kafka"
	"go.ngs.io/climate-compiler/internal/adapter/osm"
	"go.ngs.io/climate-compiler/internal/adapter/store/bundle"
	"go.ngs.io/climate-compiler/internal/config"
	"go.ngs.io/climate-compiler/internal/dataset"
	httpHandler "go.ngs.io/climate-compiler/internal/http"
	"go.ngs.io/climate-compiler/internal/observability"
	"go.ngs.io/climate-compiler/internal/usecase"
)

const version = "0.1.0"

const shutdownTimeout = 15 * time.Second

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("climate-compiler version %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	cdsHTTP := &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.HTTPTimeout,
	}}
	cdsClient, err := cds.NewClient(cfg.CDSURL, cfg.CDSKey, cdsHTTP, clock, logger, metrics)
	if err != nil {
		logger.Error("failed to create CDS client", "error", err)
		os.Exit(1)
	}

	store, err := bundle.NewStore(logger)
	if err != nil {
		logger.Error("failed to create bundle store", "error", err)
		os.Exit(1)
	}

	opts := []usecase.Option{
		usecase.WithClock(clock),
		usecase.WithLocation(cfg.Location),
		usecase.WithMetrics(metrics),
	}
	var notifier *kafka.Notifier
	if cfg.KafkaEnabled() {
		notifier = kafka.NewNotifier(cfg, logger, metrics)
		opts = append(opts, usecase.WithNotifier(notifier))
		logger.Info("compile events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("compile events disabled")
	}

	// One compiler per dataset, each with its own scratch directory.
	compilers := make(map[string]httpHandler.CompileRunner)
	for _, info := range dataset.Describe() {
		ds, err := dataset.Lookup(info.Name)
		if err != nil {
			logger.Error("dataset lookup failed", "error", err)
			os.Exit(1)
		}
		scratch := filepath.Join(cfg.ScratchDir, info.Name)
		compilers[info.Name] = usecase.NewCompiler(ds, cdsClient, store, scratch, logger, opts...)
	}

	tiles := osm.NewClient(cfg.TileURL, cfg.TileUserAgent, &http.Client{Timeout: cfg.HTTPTimeout}, logger, metrics)
	inspector := usecase.NewInspector(bundle.NewCache().Read)
	handler := httpHandler.NewHandler(compilers, inspector, tiles, cfg.OutputDir, clock, logger)
	router := httpHandler.SetupRouter(cfg, handler, prometheus.DefaultGatherer, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "addr", srv.Addr, "output_dir", cfg.OutputDir, "scratch_dir", cfg.ScratchDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	logger.Info("shutdown complete")
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Climate Compiler Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  climate-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  CDS_URL                 CDS API endpoint (default: " + config.DefaultCDSURL + ")")
	fmt.Println("  CDS_KEY                 CDS credentials as uid:api-key (required)")
	fmt.Println("  SCRATCH_DIR             Download scratch directory (default: tmp)")
	fmt.Println("  OUTPUT_DIR              Bundle directory (default: ./data/bundles)")
	fmt.Println("  TZ_NAME                 Zone for MODIS calendar fields (default: local)")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  HTTP_TIMEOUT            Upstream request timeout (default: 60s)")
	fmt.Println("  LOG_LEVEL, LOG_FORMAT   debug|info|warn|error, text|json")
	fmt.Println("  TILE_URL                Tile template with {z}/{x}/{y}")
	fmt.Println("  KAFKA_BROKERS           Comma-separated brokers; enables compile events")
	fmt.Println("  KAFKA_TOPIC             Compile event topic (default: climate-bundles)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                         Health check")
	fmt.Println("  GET  /metrics                        Prometheus metrics")
	fmt.Println("  GET  /v1/datasets                    List datasets")
	fmt.Println("  POST /v1/compile                     Run a compile")
	fmt.Println("  GET  /v1/bundles/:name/sample        Point time series")
	fmt.Println("  GET  /v1/bundles/:name/overlay       Overlay PNG")
	fmt.Println()
}
