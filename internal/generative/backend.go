// Package generative talks to audio-capable language models that return a
// JSON description of the notes they hear.
package generative

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riffscribe/riffcore/internal/config"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
)

// Name identifies the generative backend in logs, metrics and warnings.
const Name = "generative"

// Request is one audio clip and the instructions that go with it.
type Request struct {
	AudioBase64 string
	Format      string
	Prompt      string
}

// Backend returns the model's raw text answer for a clip. Parsing the
// answer is left to the caller.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, req Request) (string, error)
}

// New builds the backend selected by cfg.
func New(cfg config.GenerativeConfig, log *slog.Logger) (Backend, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg.Command)
	case "openai":
		return NewOpenAI(OpenAIConfig{
			Endpoint:          cfg.Endpoint,
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Temperature:       cfg.Temperature,
			Retries:           cfg.Retries,
			RequestsPerMinute: cfg.RequestsPerMinute,
			Timeout:           time.Duration(cfg.TimeoutMS) * time.Millisecond,
		}, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown generative mode %q", apperrors.ErrInvalidConfig, cfg.Mode)
	}
}
