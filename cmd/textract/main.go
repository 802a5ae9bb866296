// Package main provides the textract binary entry point.
// Textract is a text extraction service with hardened ingestion:
// type sniffing, budgeted archive expansion, and SSRF-guarded fetching.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/softonit/textract/api"
	"github.com/softonit/textract/config"
	"github.com/softonit/textract/extractor"
	"github.com/softonit/textract/ingest/archive"
	"github.com/softonit/textract/metrics"
	"github.com/softonit/textract/pipeline"
	"github.com/softonit/textract/webfetch"
)

const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "textract"
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

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "textract",
		Short: "Text extraction service",
		Long: `Textract extracts plain text from uploaded files, base64 payloads,
and URLs, with hardened ingestion throughout:

- content type sniffing and type-forgery detection
- budgeted recursive archive expansion with zip-bomb guards
- SSRF-guarded fetching with optional headless-browser rendering

All limits, timeouts, and blocklists come from configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if configPath != "" {
		if err := os.Setenv(config.EnvConfigPath, configPath); err != nil {
			return fmt.Errorf("set config path: %w", err)
		}
	}
	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	blocklist, err := webfetch.NewBlocklist(cfg.SSRF.BlockedCIDRs, cfg.SSRF.BlockedHostnames)
	if err != nil {
		return fmt.Errorf("build ssrf blocklist: %w", err)
	}

	fetcher := webfetch.NewFetcher(blocklist, webfetch.FetcherOptions{
		ConnectTimeout:  cfg.Fetch.ConnectTimeout,
		TransferTimeout: cfg.Fetch.TransferTimeout,
		UserAgent:       cfg.Fetch.UserAgent,
	}, logger)

	var renderer webfetch.Renderer
	if cfg.Render.Enabled {
		renderer = webfetch.NewChromeRenderer(blocklist, logger)
		logger.Info("headless rendering enabled")
	}

	web := webfetch.NewClient(fetcher, renderer, webfetch.RenderDefaults{
		LoadTimeout: cfg.Render.LoadTimeout,
		SettleDelay: cfg.Render.SettleDelay,
		ScrollDelay: cfg.Render.ScrollDelay,
	}, logger)

	p := pipeline.New(archive.New(logger), web, logger)
	m := metrics.New(prometheus.DefaultRegisterer)
	server := api.NewServer(cfg, p, extractor.NewDefaultRegistry(), m, logger)

	logger.Info("textract starting",
		slog.String("version", Version),
		slog.Int("port", cfg.Server.Port),
		slog.Int64("max_input_bytes", cfg.Limits.MaxInputBytes),
		slog.Duration("processing_timeout", cfg.Limits.ProcessingTimeout))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
