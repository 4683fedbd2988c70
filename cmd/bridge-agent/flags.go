package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	RelayURL    string
	Token       string
	DBPath      string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("BRIDGE_CONFIG", ""),
		"Path to JSON configuration file, optional (env: BRIDGE_CONFIG)")

	flag.StringVar(&cfg.RelayURL, "url",
		getEnv("RELAY_URL", ""),
		"ws(s):// relay url (env: RELAY_URL)")

	flag.StringVar(&cfg.Token, "token",
		getEnv("PRODUCER_TOKEN", ""),
		"producer auth token (env: PRODUCER_TOKEN)")

	flag.StringVar(&cfg.DBPath, "db",
		getEnv("SQLITE_PATH", ""),
		"path to SQLite database (env: SQLITE_PATH)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("BRIDGE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BRIDGE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("BRIDGE_LOG_FORMAT", "text"),
		"Log format: json, text (env: BRIDGE_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", appName)
		fmt.Fprintf(os.Stderr, "Producer bridge: connects outbound to the relay and answers data\n")
		fmt.Fprintf(os.Stderr, "requests by reading the local SQLite database (read-only).\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
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
