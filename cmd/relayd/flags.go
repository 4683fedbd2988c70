package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("RELAY_CONFIG", ""),
		"Path to JSON configuration file, optional (env: RELAY_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RELAY_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RELAY_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RELAY_LOG_FORMAT", "json"),
		"Log format: json, text (env: RELAY_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("RELAY_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: RELAY_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", appName)
		fmt.Fprintf(os.Stderr, "Websocket relay brokering request/response traffic between a single\n")
		fmt.Fprintf(os.Stderr, "producer behind a network boundary and any number of consumers.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nRequired environment (unless set in the config file):\n")
		fmt.Fprintf(os.Stderr, "  PRODUCER_TOKEN   shared secret for the producer role\n")
		fmt.Fprintf(os.Stderr, "  CONSUMER_TOKEN   shared secret for the consumer role\n")
	}

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
