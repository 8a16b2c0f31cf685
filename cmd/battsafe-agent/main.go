// Package main — cmd/battsafe-agent/main.go
//
// battsafe-agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/battsafe/config.yaml.
//  2. Initialise structured logger (zap; JSON unless log_format is "console").
//  3. Resolve geometry and thresholds; run the boot self-check.
//  4. Construct transport, clock, outputs, logger collaborators (§6).
//  5. Start Prometheus metrics server (127.0.0.1:9091).
//  6. Construct the scheduler aggregate.
//  7. Register SIGHUP handler for config hot-reload.
//  8. Run the tick loop until SIGINT/SIGTERM.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Stop the tick loop.
//  2. Drive the relay to its fail-safe disconnected state.
//  3. Flush logger.
//  4. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/battsafe/battsafe-core/internal/config"
	"github.com/battsafe/battsafe-core/internal/observability"
	"github.com/battsafe/battsafe-core/internal/scheduler"
	"github.com/battsafe/battsafe-core/internal/selfcheck"
	"github.com/battsafe/battsafe-core/internal/transport"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", config.DefaultConfigPath, "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("battsafe-agent %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	// A missing config file is itself an invalid-startup-config condition:
	// the agent does not silently fall back to Defaults() once deployed,
	// it refuses to start (see package doc). Use -config to point at a
	// freshly generated config.yaml (e.g. from Defaults()) instead.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("battsafe-agent starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Geometry, thresholds, self-check ──────────────────────────────
	geometry, err := cfg.Geometry()
	if err != nil {
		log.Fatal("geometry resolution failed", zap.Error(err))
	}
	thresholds := cfg.Thresholds.ToModel()

	armLatch := &selfcheck.ArmLatch{}
	report := selfcheck.Run(geometry, thresholds)
	armLatch.Arm(report)
	if report.Passed {
		log.Info("self-check passed, relay connect path armed")
	} else {
		log.Warn("self-check failed, relay stays disconnected", zap.Strings("errors", report.Errors))
	}

	// ── Step 4: Collaborators ──────────────────────────────────────────────────
	xport := transport.NewMemoryTransport() // replaced by a real UART/TCP transport at composition time
	clock := transport.NewSystemClock()
	outputs := transport.NewRelayOutputs(log, armLatch)
	logLine := transport.NewZapLogger(log)

	// ── Step 5: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 6: Scheduler ──────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Geometry:               geometry,
		Thresholds:             thresholds,
		TickMS:                 cfg.Scheduler.TickMS,
		Normal:                 scheduler.Profile(cfg.Scheduler.Normal),
		Alert:                  scheduler.Profile(cfg.Scheduler.Alert),
		ExternalActiveSlowMS:   cfg.Scheduler.ExternalActiveSlow,
		ExternalInputTimeoutMS: cfg.Scheduler.ExternalInputTimeoutMS,
		HoldWindows:            cfg.HoldWindows.ToModel(),
		RxBufSize:              cfg.Receiver.RxBufSize,
		Transport:              xport,
		Clock:                  clock,
		Outputs:                outputs,
		Logger:                 logLine,
		Metrics:                metrics,
		ArmLatch:               armLatch,
	})

	// ── Step 7: SIGHUP hot-reload ──────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			cfg = newCfg
			sched.UpdateLiveConfig(newCfg.Thresholds.ToModel(), newCfg.HoldWindows.ToModel())
			log.Info("config hot-reload applied live (thresholds, hold windows)",
				zap.Float64("new_temp_warning_c", newCfg.Thresholds.TempWarningC))
			// Destructive changes (geometry, metrics bind address) require a
			// restart; log level is read once at startup and is not re-applied
			// by this handler.
		}
	}()

	// ── Step 8: Tick loop ──────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tickInterval := time.Duration(cfg.Scheduler.TickMS) * time.Millisecond
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Info("scheduler running", zap.Int64("tick_ms", cfg.Scheduler.TickMS))
	for {
		select {
		case <-ticker.C:
			sched.Tick()
		case sig := <-sigCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			outputs.RelayDisconnect()
			cancel()
			log.Info("battsafe-agent shutdown complete")
			return
		}
	}
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return zcfg.Build()
}
