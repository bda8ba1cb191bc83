// Command flownode is the node entrypoint of spec.md §6: it loads node
// configuration, brings up telemetry and the optional snapshot sink, scans
// the configured apps directory for .s4r archives, wires their declared
// stream subscriptions, starts every loaded App, and waits for a shutdown
// signal. Grounded in the teacher's cmd/gateway main, generalized from one
// fixed gateway pipeline to a dynamically loaded set of Apps.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"os/signal"

	"github.com/coachpo/flow/flow/config"
	"github.com/coachpo/flow/flow/node"
	"github.com/coachpo/flow/flow/observability"
	"github.com/coachpo/flow/flow/snapshot"
)

const (
	defaultConfigPath        = "config/node.yaml"
	nodeLoggerPrefix         = "[flownode] "
	shutdownTimeout          = 30 * time.Second
	nodeShutdownTimeout      = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	snapshotShutdownTimeout  = 5 * time.Second
)

func main() {
	configPath := parseFlags()

	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newNodeLogger()

	cfg, err := config.LoadNodeConfig(configPath)
	if err != nil {
		logger.Fatalf("load node config: %v", err)
	}
	logger.Printf("configuration initialised: comm_module=%s apps_dir=%s", cfg.CommModule, cfg.AppsDir)

	observability.SetLogger(observability.NewStdLogger(observability.ParseLevel(cfg.LoggerLevel)))

	telemetryShutdown, err := observability.Init(ctx, observability.TelemetryConfig{
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  "flow-node",
	})
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	snapshotSink := snapshot.Disabled()
	if dsn := os.Getenv("FLOW_SNAPSHOT_DSN"); dsn != "" {
		snapshotSink, err = snapshot.Open(ctx, dsn)
		if err != nil {
			logger.Printf("snapshot sink disabled: %v", err)
			snapshotSink = snapshot.Disabled()
		}
	}

	n, err := node.Start(cfg, snapshotSink)
	if err != nil {
		logger.Fatalf("start node: %v", err)
	}
	logger.Printf("node started: apps=%d", len(n.Apps()))

	logger.Print("flownode started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		node:              n,
		snapshot:          snapshotSink,
		telemetryShutdown: telemetryShutdown,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("path to node configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newNodeLogger() *log.Logger {
	return log.New(os.Stdout, nodeLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

type gracefulShutdownConfig struct {
	node              *node.Node
	snapshot          *snapshot.Sink
	telemetryShutdown func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.node != nil {
		shutdownStep("closing apps", nodeShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.node.Close(stepCtx)
		})
	}

	if cfg.snapshot != nil {
		shutdownStep("closing snapshot sink", snapshotShutdownTimeout, func(context.Context) error {
			cfg.snapshot.Close()
			return nil
		})
	}

	if cfg.telemetryShutdown != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetryShutdown)
	}
}
