// Wsdd is the watershed delineation daemon.
//
// It serves the batch HTTP API and runs submitted batches either in-process
// or on Temporal when temporal.host_port is configured. With
// temporal.worker set the daemon also runs a Temporal worker.
//
// Configuration is loaded from ~/.config/watershed/config.yaml (or the file
// given with -config) and WSD_ environment variables.
//
// Usage:
//
//	# Start the daemon with defaults
//	wsdd
//
//	# Use another port and a NATS server
//	WSD_SERVER_HTTP_PORT=8088 WSD_EVENTS_NATS_URL=nats://localhost:4222 wsdd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/watershed/internal/config"
	"github.com/fyrsmithlabs/watershed/internal/http"
	"github.com/fyrsmithlabs/watershed/internal/logging"
	"github.com/fyrsmithlabs/watershed/internal/services"
	"github.com/fyrsmithlabs/watershed/internal/telemetry"
	"github.com/fyrsmithlabs/watershed/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/watershed/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  wsdd [-config file]   Start the watershed daemon\n")
			fmt.Fprintf(os.Stderr, "  wsdd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("wsdd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// This function:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Wires the pipeline stages
//  4. Picks the batch backend (in-process or Temporal) and starts an
//     optional Temporal worker
//  5. Serves the HTTP API and shuts down gracefully on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting wsdd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	reg, err := services.Build(ctx, cfg, logger, services.WithUserAgent("wsdd/"+version))
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("failed to close services", zap.Error(err))
		}
	}()

	batches, cleanup, err := initBackend(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := http.NewServer(batches, logger, &http.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		BodyLimit: cfg.Server.BodyLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}

// initLogger builds the process logger from the logging section.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*zap.Logger, error) {
	lc, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lc.Fields["service"] = cfg.Observability.ServiceName
	lc.Fields["version"] = version
	logger, err := logging.NewLogger(lc, tel.LoggerProvider())
	if err != nil {
		return nil, err
	}
	return logger.Underlying(), nil
}

// initBackend returns the batch backend of the HTTP API. Without a Temporal
// host batches run in-process on the registry's runner.
func initBackend(ctx context.Context, cfg *config.Config, reg services.Registry, logger *zap.Logger) (http.Batches, func(), error) {
	if cfg.Temporal.HostPort == "" {
		local := http.NewLocal(ctx, reg.Runner(), reg.Events(), logger)
		logger.Info("batches run in-process", zap.Int("concurrency", cfg.Pipeline.Concurrency))
		return local, local.Wait, nil
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	logger.Info("temporal client connected",
		zap.String("host", cfg.Temporal.HostPort),
		zap.String("namespace", cfg.Temporal.Namespace))

	dispatcher := workflows.NewDispatcher(c, cfg.Temporal.TaskQueue, reg.Events())
	dispatcher.MaxConcurrent = cfg.Pipeline.Concurrency
	dispatcher.PointTimeout = cfg.Pipeline.PointTimeout.Duration()

	if !cfg.Temporal.Worker {
		return dispatcher, c.Close, nil
	}

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	workflows.Register(w, workflows.NewActivities(reg.Runner(), logger.Named("activities")))
	if err := w.Start(); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("worker error: %w", err)
	}
	logger.Info("worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))

	return dispatcher, func() {
		w.Stop()
		c.Close()
		logger.Info("worker stopped gracefully")
	}, nil
}
