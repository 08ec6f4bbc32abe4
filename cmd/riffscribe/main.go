package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/riffscribe/riffcore/internal/config"
)

var version = "0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "riffscribe",
	Short: "Transcribe guitar, bass and drum parts from recordings",
	Long: `riffscribe turns an audio recording into timed notes with
instrument labels, tablature positions and song metadata.

It tries a local transcription model first, falls back to a generative
audio model, and synthesizes a placeholder riff when neither produces notes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults and RIFF_* env vars apply when empty)")

	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("riffscribe failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println(version)
	},
}

func newLogger(w io.Writer, cfg config.TelemetryConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
