// Package precise wraps local symbolic transcription models that turn a
// recording into a MIDI note stream.
package precise

import (
	"context"
	"fmt"

	"github.com/riffscribe/riffcore/internal/config"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/symbolic"
)

// Name identifies the precise backend in logs, metrics and warnings.
const Name = "precise"

// Backend abstracts precise transcription models.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, path string) (symbolic.Stream, error)
}

// New builds the backend selected by cfg. tempRoot hosts per-request
// workspaces; empty means the system temp dir.
func New(cfg config.PreciseConfig, tempRoot string) (Backend, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg.Command, cfg.ModelPath, tempRoot)
	default:
		return nil, fmt.Errorf("%w: unknown precise mode %q", apperrors.ErrInvalidConfig, cfg.Mode)
	}
}
