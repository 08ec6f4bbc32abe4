package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/riffscribe/riffcore/internal/config"
	"github.com/riffscribe/riffcore/internal/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription worker and HTTP endpoints",
	Long: `Run the long-lived service: it answers transcription requests on the
message bus, records every run, and serves /healthz, /readyz, /metrics
and /runs over HTTP.

Example:
  riffscribe serve --config riffcore.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.Telemetry)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, version, logger)
	if err := rt.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
