package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration shared by all subcommands.
type CLIConfig struct {
	ConfigPath string
	URL        string
	Namespace  string
	LogLevel   string
	LogFormat  string
	Encoding   string
	Timeout    time.Duration

	ShowVersion bool
	ShowHelp    bool

	Command string
	Args    []string
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("KEYMESH_CONFIG", ""),
		"Path to configuration file (env: KEYMESH_CONFIG)")

	flag.StringVar(&cfg.URL, "url",
		getEnv("KEYMESH_URL", "nats://localhost:4222"),
		"NATS server URL for the mesh link (env: KEYMESH_URL)")

	flag.StringVar(&cfg.Namespace, "namespace",
		getEnv("KEYMESH_NAMESPACE", "keymesh"),
		"Mesh namespace (env: KEYMESH_NAMESPACE)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("KEYMESH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: KEYMESH_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("KEYMESH_LOG_FORMAT", "text"),
		"Log format: json, text (env: KEYMESH_LOG_FORMAT)")

	flag.StringVar(&cfg.Encoding, "encoding",
		"text/plain",
		"Payload encoding for pub and get")

	flag.DurationVar(&cfg.Timeout, "timeout",
		getEnvDuration("KEYMESH_TIMEOUT", 10*time.Second),
		"Query timeout for get (env: KEYMESH_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = printDetailedHelp

	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		cfg.Command = args[0]
		cfg.Args = args[1:]
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	switch cfg.Command {
	case "pub":
		if len(cfg.Args) != 2 {
			return fmt.Errorf("pub requires <key> <payload>")
		}
	case "del":
		if len(cfg.Args) != 1 {
			return fmt.Errorf("del requires <key>")
		}
	case "sub", "get":
		if len(cfg.Args) != 1 {
			return fmt.Errorf("%s requires <keyexpr>", cfg.Command)
		}
	case "":
		return fmt.Errorf("no command given, expected pub, sub, get, or del")
	default:
		return fmt.Errorf("unknown command: %s", cfg.Command)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - keyed pub/sub and query mesh client

Usage: %s [options] <command> [args]

Commands:
  pub <key> <payload>   Publish a payload on a concrete key
  del <key>             Publish a deletion on a concrete key
  sub <keyexpr>         Subscribe and print samples until interrupted
  get <keyexpr>         Query and print the collected replies

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Publish a value
  %s pub sensors/room1/temp 21.5

  # Watch everything under sensors/
  %s sub 'sensors/**'

  # Query current values
  %s -timeout=2s get 'sensors/**'

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
