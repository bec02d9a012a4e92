// Knowledged is the knowledge index daemon.
//
// It serves the tenant operation API over HTTP and, when a Temporal
// frontend is configured, runs the fleet resync worker in the same
// process.
//
// Usage:
//
//	# Start the daemon with defaults
//	knowledged
//
//	# Load a config file, override from the environment
//	KNOWLEDGED_VECTORSTORE_PROVIDER=qdrant knowledged -config knowledged.yaml
//
//	# Serve search and status as MCP tools on stdio
//	knowledged mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	httpserver "github.com/fyrsmithlabs/knowledged/internal/http"
	"github.com/fyrsmithlabs/knowledged/internal/mcp"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KNOWLEDGED_CONFIG"), "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	mode := "serve"
	if len(args) > 0 {
		mode = args[0]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch mode {
	case "serve":
		err = run(ctx, *configPath)
	case "mcp":
		err = runMCP(ctx, *configPath)
	case "version":
		printVersion()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", mode)
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		fmt.Fprintf(os.Stderr, "  knowledged [-config file]           Start the daemon\n")
		fmt.Fprintf(os.Stderr, "  knowledged [-config file] mcp       Serve MCP tools on stdio\n")
		fmt.Fprintf(os.Stderr, "  knowledged version                  Show version information\n")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "knowledged: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("knowledged by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled, then drains
// the HTTP server within the configured shutdown timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	app, err := build(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	logger := app.logger

	host, port, err := splitAddr(cfg.Server.Addr)
	if err != nil {
		return err
	}
	srv, err := httpserver.NewServer(app.orch, app.store, logger, &httpserver.Config{Host: host, Port: port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if cfg.Temporal.HostPort != "" {
		fleet, err := startWorker(ctx, cfg.Temporal, app)
		if err != nil {
			return err
		}
		defer fleet.Close()
		srv.SetFleetStarter(fleet)
	}

	logger.Info(ctx, "starting knowledged",
		zap.String("addr", cfg.Server.Addr),
		zap.String("version", version),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Bool("fleet_worker", cfg.Temporal.HostPort != ""))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(ctx, "server shutdown complete")
	return nil
}

// runMCP serves knowledge_search and index_status on stdio against an
// in-process orchestrator. Logs go to stderr; stdout carries the
// protocol.
func runMCP(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app, err := build(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = app.logger
	mcpCfg.Scrubber = app.scrubber
	srv, err := mcp.NewServer(mcpCfg, app.orch)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	app.logger.Info(ctx, "serving mcp on stdio")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// splitAddr turns ":8420" or "0.0.0.0:8420" into host and port. An empty
// host stays empty so the listener binds every interface.
func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid server.addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid server.addr port %q", portStr)
	}
	return host, port, nil
}
