// Package main implements the relay server entry point. The relay sits
// between a data-producing agent behind a network boundary and the consumers
// that need on-demand access to its data, brokering request/response traffic
// for many consumers over the producer's single outbound connection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jousa-sbrt/remote-bridge/config"
	"github.com/jousa-sbrt/remote-bridge/health"
	"github.com/jousa-sbrt/remote-bridge/metric"
	"github.com/jousa-sbrt/remote-bridge/relay"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "relayd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("relay failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.LoadRelay(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	slog.Info("starting relay",
		"version", Version,
		"port", cfg.Port,
		"path", cfg.Path,
		"request_timeout", cfg.RequestTimeout.Std(),
		"keepalive_interval", cfg.KeepaliveInterval.Std())

	registry := metric.NewRegistry()
	server := relay.NewServer(cfg, registry)

	if err := server.Start(); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	monitor := health.NewMonitor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchHealth(ctx, monitor, server)

	var healthServer *health.Server
	if cfg.HealthPort > 0 {
		healthServer = health.NewServer(cfg.HealthPort, appName, monitor)
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		slog.Info("health endpoint listening", "port", cfg.HealthPort)
	}

	var metricsServer *metric.Server
	if cfg.MetricsPort > 0 {
		metricsServer = metric.NewServer(cfg.MetricsPort, "/metrics", registry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("metrics endpoint listening", "port", cfg.MetricsPort)
	}

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutdown signal received", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	if metricsServer != nil {
		_ = metricsServer.Stop(shutdownCtx)
	}
	if healthServer != nil {
		_ = healthServer.Stop(shutdownCtx)
	}
	if err := server.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("stop relay: %w", err)
	}

	slog.Info("relay stopped")
	return nil
}

// watchHealth periodically publishes the relay's health into the monitor.
func watchHealth(ctx context.Context, monitor *health.Monitor, server *relay.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	monitor.Update("relay", server.Health())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.Update("relay", server.Health())
		}
	}
}
