package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/academyhq/academy/internal/config"
	"github.com/academyhq/academy/internal/daemon"
	mcpserver "github.com/academyhq/academy/internal/mcp"
)

// cmdMCP serves the progress tools on stdio, or on HTTP with --http. It opens
// the same stores as the daemon but does not publish to the broker.
func cmdMCP(args []string) error {
	httpAddr, err := parseMCPArgs(args)
	if err != nil {
		return err
	}

	if httpAddr == "" {
		// stdout carries the protocol
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Events.Publish = false
	cfg.Events.JournalDSN = ""

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := daemon.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer rt.Close()

	srv := mcpserver.NewServer(mcpserver.Config{
		Tracker: rt.Tracker,
		Catalog: rt.Catalog,
		Version: Version,
	})

	if httpAddr != "" {
		slog.Info("serving MCP over HTTP", "addr", httpAddr)
		err = srv.ServeHTTP(ctx, httpAddr)
	} else {
		err = srv.ServeStdio(ctx)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "mcp server: %v\n", err)
		return err
	}
	return nil
}

// parseMCPArgs accepts "--http addr" and "--http=addr"
func parseMCPArgs(args []string) (httpAddr string, err error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--http":
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "-") {
				return "", errors.New("--http requires an address")
			}
			i++
			httpAddr = args[i]
		case strings.HasPrefix(arg, "--http="):
			httpAddr = strings.TrimPrefix(arg, "--http=")
			if httpAddr == "" {
				return "", errors.New("--http requires an address")
			}
		default:
			return "", fmt.Errorf("unknown mcp option: %s", arg)
		}
	}
	return httpAddr, nil
}
