package runtime

import (
	"fmt"
	"log/slog"

	"github.com/riffscribe/riffcore/internal/audio"
	"github.com/riffscribe/riffcore/internal/config"
	"github.com/riffscribe/riffcore/internal/generative"
	"github.com/riffscribe/riffcore/internal/orchestrator"
	"github.com/riffscribe/riffcore/internal/precise"
	"github.com/riffscribe/riffcore/internal/signal"
)

// BuildOrchestrator wires the audio tooling and the enabled backends
// described by cfg. Telemetry comes from the otel globals, so call it after
// telemetry is set up when metrics should be exported.
func BuildOrchestrator(cfg config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	opts, err := orchestrator.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var prober audio.Prober
	if cfg.Audio.FFprobeCommand != "" {
		prober, err = audio.NewFFprobe(cfg.Audio.FFprobeCommand)
		if err != nil {
			return nil, fmt.Errorf("ffprobe: %w", err)
		}
	}

	transcoders := []audio.Transcoder{}
	if cfg.Audio.FFmpegCommand != "" {
		ff, err := audio.NewFFmpeg(cfg.Audio.FFmpegCommand)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: %w", err)
		}
		transcoders = append(transcoders, ff)
	}
	transcoders = append(transcoders, audio.NewWAVCutter())

	deps := orchestrator.Deps{
		Inspector: audio.NewInspector(prober, logger),
		Preparer:  audio.NewPreparer(audio.Chain(transcoders...), cfg.Audio.TempDir, logger),
		Logger:    logger,
	}

	if cfg.Precise.Enabled {
		deps.Precise, err = precise.New(cfg.Precise, cfg.Audio.TempDir)
		if err != nil {
			return nil, fmt.Errorf("precise backend: %w", err)
		}
	}
	if cfg.Generative.Enabled {
		deps.Generative, err = generative.New(cfg.Generative, logger)
		if err != nil {
			return nil, fmt.Errorf("generative backend: %w", err)
		}
	}
	if cfg.Signal.Mode == "exec" {
		deps.Signal, err = signal.NewExecAnalyzer(cfg.Signal.Command)
		if err != nil {
			return nil, fmt.Errorf("signal analyzer: %w", err)
		}
	}

	logger.Info("orchestrator configured",
		slog.Bool("precise", cfg.Precise.Enabled),
		slog.String("precise_mode", cfg.Precise.Mode),
		slog.Bool("generative", cfg.Generative.Enabled),
		slog.String("generative_mode", cfg.Generative.Mode),
		slog.String("signal_mode", cfg.Signal.Mode),
		slog.Any("order", cfg.Orchestrator.Order))
	return orchestrator.New(opts, deps)
}
