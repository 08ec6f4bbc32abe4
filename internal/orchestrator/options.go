package orchestrator

import (
	"fmt"
	"time"

	"github.com/riffscribe/riffcore/internal/audio"
	"github.com/riffscribe/riffcore/internal/classify"
	"github.com/riffscribe/riffcore/internal/config"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/tab"
)

// OptionsFromConfig translates runtime configuration into Options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	order, err := ParseOrder(cfg.Orchestrator.Order)
	if err != nil {
		return Options{}, fmt.Errorf("%w: orchestrator.order: %v", apperrors.ErrInvalidConfig, err)
	}
	guitar, err := tab.GuitarTuning(cfg.Classifier.GuitarTuning)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	bass, err := tab.BassTuning(cfg.Classifier.BassTuning)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}

	formats := make([]audio.Format, 0, len(cfg.Audio.AllowedFormats))
	for _, name := range cfg.Audio.AllowedFormats {
		f := audio.ParseFormat(name)
		if f == audio.FormatUnknown {
			return Options{}, fmt.Errorf("%w: audio.allowed_formats: unknown format %q", apperrors.ErrInvalidConfig, name)
		}
		formats = append(formats, f)
	}

	return Options{
		Order:             order,
		PreciseTimeout:    time.Duration(cfg.Precise.TimeoutMS) * time.Millisecond,
		GenerativeTimeout: time.Duration(cfg.Generative.TimeoutMS) * time.Millisecond,
		SignalTimeout:     time.Duration(cfg.Signal.TimeoutMS) * time.Millisecond,
		MaxConcurrency:    cfg.Generative.MaxConcurrency,
		MetadataPolicy:    MetadataPolicy(cfg.Orchestrator.MetadataPolicy),
		Constraints: audio.Constraints{
			MaxPayloadBytes: cfg.Audio.MaxPayloadBytes,
			AllowedFormats:  formats,
			SampleSeconds:   cfg.Audio.SampleSeconds,
			MaxSamples:      cfg.Audio.MaxSamples,
			MaxBitrateKbps:  cfg.Audio.MaxBitrateKbps,
		},
		Classifier: classify.Options{
			TrustBackendLabels: cfg.Classifier.TrustBackendLabels,
			DrumMaxDuration:    cfg.Classifier.DrumMaxDuration,
			Guitar:             guitar,
			Bass:               bass,
		},
	}, nil
}
