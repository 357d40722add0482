package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SkynetNext/growbuf/internal/config"
	"github.com/SkynetNext/growbuf/internal/logger"
	"github.com/SkynetNext/growbuf/internal/memory"
	"github.com/SkynetNext/growbuf/internal/tracing"
	"github.com/SkynetNext/growbuf/internal/workload"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath    string
		allocatorName string
	)
	flag.StringVar(&configPath, "config", "", "Configuration file path (defaults are used when empty)")
	flag.StringVar(&allocatorName, "allocator", "", "Allocator to run the workload with (overrides workload.allocator)")
	flag.Parse()

	// Load configuration
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}
	if allocatorName != "" {
		cfg.Workload.Allocator = allocatorName
		if err := config.ValidateConfig(cfg); err != nil {
			log.Fatalf("Invalid allocator override: %v", err)
		}
	}

	// Environment overrides the configured log level
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := logger.Init(logLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if endpoint := os.Getenv("TRACING_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		logger.L.Error("growbuf failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run executes the configured workload and writes metrics to out
func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := tracing.Init(cfg.Tracing.ServiceName, version, cfg.Tracing.Endpoint); err != nil {
		logger.L.Warn("Failed to initialize tracing", zap.Error(err))
	} else if cfg.Tracing.Endpoint != "" {
		logger.L.Info("Tracing initialized", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	var server *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.L.Error("Metrics server failed", zap.Error(err))
			}
		}()
		logger.L.Info("Serving metrics", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		shutdownErr := tracing.Shutdown(shutdownCtx)
		if server != nil {
			shutdownErr = multierr.Append(shutdownErr, server.Shutdown(shutdownCtx))
		}
		if shutdownErr != nil {
			logger.L.Warn("Error during shutdown", zap.Error(shutdownErr))
		}
	}()

	logger.L.Info("growbuf starting",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.String("allocator", cfg.Workload.Allocator),
	)

	registry := memory.NewRegistry(cfg.Allocators)
	alloc, err := registry.Get(cfg.Workload.Allocator)
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}

	report, err := workload.Run(ctx, cfg.Workload, alloc)
	if err != nil {
		return fmt.Errorf("workload %q failed: %w", cfg.Workload.Name, err)
	}
	fmt.Fprintln(out, report)

	if cfg.Metrics.Print {
		if err := printMetrics(out, prometheus.DefaultGatherer); err != nil {
			return fmt.Errorf("failed to print metrics: %w", err)
		}
	}
	return nil
}

// printMetrics writes the growbuf metric families in text exposition format
func printMetrics(out io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "growbuf_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return err
		}
	}
	return nil
}
