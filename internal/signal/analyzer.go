// Package signal is the boundary to the external signal-analysis
// capability: onset detection, beat tracking and chroma extraction run out
// of process and report back as Features.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"

	apperrors "github.com/riffscribe/riffcore/internal/errors"
)

const waitDelay = 2 * time.Second

// ErrUnavailable is returned when no analyzer is configured.
var ErrUnavailable = errors.New("signal analysis unavailable")

// Features summarizes a recording's signal statistics.
type Features struct {
	Duration float64     `json:"duration"`
	Tempo    float64     `json:"tempo"`
	Onsets   []float64   `json:"onsets"`
	Chroma   [12]float64 `json:"chroma"`
}

// HasChroma reports whether any chroma bin carries energy.
func (f *Features) HasChroma() bool {
	if f == nil {
		return false
	}
	for _, v := range f.Chroma {
		if v > 0 {
			return true
		}
	}
	return false
}

// Analyzer extracts Features from an audio file.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*Features, error)
}

type noneAnalyzer struct{}

// None returns an Analyzer that always reports ErrUnavailable.
func None() Analyzer { return noneAnalyzer{} }

func (noneAnalyzer) Analyze(context.Context, string) (*Features, error) {
	return nil, ErrUnavailable
}

type execAnalyzer struct {
	cmd []string
}

// NewExecAnalyzer runs command with "--audio <path>" appended and decodes
// Features from its stdout.
func NewExecAnalyzer(command string) (Analyzer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse signal command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("signal command empty")
	}
	return &execAnalyzer{cmd: args}, nil
}

func (a *execAnalyzer) Analyze(ctx context.Context, path string) (*Features, error) {
	args := append(append([]string{}, a.cmd[1:]...), "--audio", path)
	command := exec.CommandContext(ctx, a.cmd[0], args...)
	command.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, a.cmd[0], apperrors.ErrToolNotInstalled)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, apperrors.NewProcessError(a.cmd[0], "analysis", exitCode, stderr.String(), err)
	}

	var features Features
	if err := json.Unmarshal(stdout.Bytes(), &features); err != nil {
		return nil, fmt.Errorf("decode signal features: %w", err)
	}
	return &features, nil
}
