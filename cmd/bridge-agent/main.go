// Package main implements the producer bridge agent. It runs next to the
// data writer behind the network boundary, makes the single outbound
// connection to the relay, and answers forwarded requests from the local
// SQLite database without blocking the live writer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jousa-sbrt/remote-bridge/bridge"
	"github.com/jousa-sbrt/remote-bridge/config"
	"github.com/jousa-sbrt/remote-bridge/health"
	"github.com/jousa-sbrt/remote-bridge/metric"
	"github.com/jousa-sbrt/remote-bridge/resolver"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "bridge-agent"
)

func main() {
	if err := run(); err != nil && err != context.Canceled {
		slog.Error("bridge agent failed", "error", err, "exit_code", 1)
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

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting bridge agent",
		"version", Version,
		"relay_url", cfg.RelayURL,
		"db", cfg.SQLitePath)

	res, err := resolver.NewSQLiteResolver(cfg.SQLitePath, cfg.Limits)
	if err != nil {
		return fmt.Errorf("open resolver: %w", err)
	}
	defer res.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = res.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	registry := metric.NewRegistry()
	agent := bridge.NewAgent(cfg, res, registry)

	if cfg.MetricsPort > 0 {
		metricsServer := metric.NewServer(cfg.MetricsPort, "/metrics", registry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsServer.Stop(shutdownCtx)
		}()
		slog.Info("metrics endpoint listening", "port", cfg.MetricsPort)
	}

	if cfg.HealthPort > 0 {
		monitor := health.NewMonitor()
		healthServer := health.NewServer(cfg.HealthPort, appName, monitor)
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = healthServer.Stop(shutdownCtx)
		}()
		go watchHealth(ctx, monitor, agent)
	}

	return agent.Run(ctx)
}

// loadConfig merges the optional config file with CLI flag overrides.
func loadConfig(cliCfg *CLIConfig) (config.BridgeConfig, error) {
	cfg, err := config.LoadBridge(cliCfg.ConfigPath)
	if err != nil {
		return cfg, err
	}

	if cliCfg.RelayURL != "" {
		cfg.RelayURL = cliCfg.RelayURL
	}
	if cliCfg.Token != "" {
		cfg.ProducerToken = cliCfg.Token
	}
	if cliCfg.DBPath != "" {
		cfg.SQLitePath = cliCfg.DBPath
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// watchHealth periodically publishes the agent's health into the monitor.
func watchHealth(ctx context.Context, monitor *health.Monitor, agent *bridge.Agent) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	monitor.Update("bridge", agent.Health())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.Update("bridge", agent.Health())
		}
	}
}
