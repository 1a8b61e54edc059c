// Package main implements the keymesh command line client. It joins the
// mesh over NATS and exposes pub, sub, get, and del against the shared key
// space, mirroring what an embedded session does in code.
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

	"github.com/c360/keymesh"
)

const (
	Version = keymesh.Version
	appName = "keymesh"
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
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := buildConfig(cliCfg)
	if err != nil {
		return err
	}

	session, err := keymesh.Open(cfg, keymesh.WithLogger(&slogAdapter{l: logger}))
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Error("closing session", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cliCfg.Command {
	case "pub":
		return runPub(session, cliCfg)
	case "del":
		return runDel(session, cliCfg)
	case "sub":
		return runSub(ctx, session, cliCfg)
	case "get":
		return runGet(session, cliCfg)
	default:
		return fmt.Errorf("unknown command: %s", cliCfg.Command)
	}
}

// buildConfig merges the config file, when given, with CLI flags. Flags win
// for the link URL and namespace.
func buildConfig(cliCfg *CLIConfig) (*keymesh.Config, error) {
	cfg := keymesh.DefaultConfig()
	if cliCfg.ConfigPath != "" {
		loaded, err := keymesh.LoadConfig(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	cfg.Link.Enabled = true
	if cfg.Link.URL == "" || cliCfg.URL != "nats://localhost:4222" {
		cfg.Link.URL = cliCfg.URL
	}
	if cliCfg.Namespace != "" {
		cfg.Link.Namespace = cliCfg.Namespace
	}
	if cliCfg.Timeout > 0 {
		cfg.QueryTimeout = keymesh.Duration(cliCfg.Timeout)
	}
	return cfg, nil
}

func runPub(session *keymesh.Session, cliCfg *CLIConfig) error {
	key, payload := cliCfg.Args[0], cliCfg.Args[1]
	if err := session.Put(key, []byte(payload)).
		Encoding(keymesh.Encoding(cliCfg.Encoding)).
		Do(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	slog.Info("published", "key", key, "bytes", len(payload))
	// Give the link a moment to flush before the session closes.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func runDel(session *keymesh.Session, cliCfg *CLIConfig) error {
	key := cliCfg.Args[0]
	if err := session.Delete(key).Do(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	slog.Info("deleted", "key", key)
	time.Sleep(100 * time.Millisecond)
	return nil
}

func runSub(ctx context.Context, session *keymesh.Session, cliCfg *CLIConfig) error {
	expr := cliCfg.Args[0]
	sub, err := session.DeclareSubscriber(expr).Channel().Done()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", expr, err)
	}
	defer func() {
		if err := sub.Undeclare(); err != nil {
			slog.Error("undeclaring subscriber", "error", err)
		}
	}()

	slog.Info("subscribed", "keyexpr", expr)
	for {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal")
			return nil
		case sample, ok := <-sub.Chan():
			if !ok {
				return nil
			}
			printSample(sample)
		}
	}
}

func runGet(session *keymesh.Session, cliCfg *CLIConfig) error {
	selector := cliCfg.Args[0]
	replies, err := session.Get(selector).
		Timeout(cliCfg.Timeout).
		Wait()
	if err != nil {
		return fmt.Errorf("get %s: %w", selector, err)
	}

	for _, r := range replies {
		printSample(r.Sample)
	}
	slog.Info("query finished", "keyexpr", selector, "replies", len(replies))
	return nil
}

func printSample(s keymesh.Sample) {
	switch s.Kind {
	case keymesh.SampleKindDelete:
		fmt.Printf("%s  %s  <deleted>\n", s.Timestamp.Format(time.RFC3339Nano), s.KeyExpr)
	default:
		fmt.Printf("%s  %s  %s\n", s.Timestamp.Format(time.RFC3339Nano), s.KeyExpr, s.PayloadString())
	}
}

func sprintf(format string, v ...any) string {
	return fmt.Sprintf(format, v...)
}
