// vid2frame partitions video collections into splits, extracts sampled
// frames into a key-value frame store, and merges or verifies those stores.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/withObsrvr/vid2frame/internal/config"
	"github.com/withObsrvr/vid2frame/internal/logging"
	"github.com/withObsrvr/vid2frame/internal/metrics"
	"github.com/withObsrvr/vid2frame/internal/pipeline"
)

const envPrefix = "VID2FRAME_"

func env(name string) []string {
	return []string{envPrefix + name}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	app := newApp()

	if err := app.RunContext(ctx, os.Args); err != nil {
		if ctx.Err() != nil {
			slog.Info("shutdown complete", "error", err)
			os.Exit(130)
		}
		slog.Error("vid2frame failed", "error", err)
		os.Exit(1)
	}
}

// newApp builds the command tree.
func newApp() *cli.App {
	return &cli.App{
		Name:    "vid2frame",
		Usage:   "Extract sampled video frames into key-value frame stores",
		Version: fmt.Sprintf("%s (%s)", pipeline.Version, pipeline.GitSHA),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file", EnvVars: env("CONFIG")},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "Log format (text, json, tint)", EnvVars: env("LOG_FORMAT")},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log level (debug, info, warn, error)", EnvVars: env("LOG_LEVEL")},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address, e.g. :9090", EnvVars: env("METRICS_ADDR")},
		},
		Before: setup,
		Commands: []*cli.Command{
			splitCommand(),
			extractCommand(),
			mergeCommand(),
			verifyCommand(),
		},
	}
}

// setup configures logging and the metrics server before any command runs.
func setup(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.Debug("starting", "version", pipeline.Version, "git_sha", pipeline.GitSHA)

	if cfg.Metrics.Address != "" {
		metrics.Init(cfg.Metrics.Namespace)
		go func() {
			slog.Info("serving metrics", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}
	return nil
}

// loadConfig reads the config file, then applies global flags that were
// set explicitly.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("log-format") || cfg.Logging.Format == "" {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.IsSet("log-level") || cfg.Logging.Level == "" {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Address = c.String("metrics-addr")
	}
	return cfg, nil
}
