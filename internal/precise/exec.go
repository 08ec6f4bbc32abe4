package precise

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/riffscribe/riffcore/internal/audio"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/symbolic"
)

const (
	outputName = "transcription.mid"
	waitDelay  = 2 * time.Second
)

type execBackend struct {
	cmd       []string
	modelPath string
	tempRoot  string
	parseErr  error
}

// NewExec returns a Backend that shells out to a model CLI invoked as
// `<command> --audio <in> --output <out.mid> [--model <path>]`. An empty
// command is not rejected here; every call then reports the backend as
// unavailable.
func NewExec(command, modelPath, tempRoot string) (Backend, error) {
	b := &execBackend{modelPath: modelPath, tempRoot: tempRoot}
	if strings.TrimSpace(command) == "" {
		b.parseErr = errors.New("command is empty")
		return b, nil
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("%w: parse precise command: %v", apperrors.ErrInvalidConfig, err)
	}
	if len(args) == 0 {
		b.parseErr = errors.New("command is empty")
	}
	b.cmd = args
	return b, nil
}

func (b *execBackend) Name() string { return Name }

func (b *execBackend) Transcribe(ctx context.Context, path string) (symbolic.Stream, error) {
	if b.parseErr != nil {
		return symbolic.Stream{}, apperrors.Unavailable(Name, b.parseErr.Error(), nil)
	}
	if _, err := exec.LookPath(b.cmd[0]); err != nil {
		return symbolic.Stream{}, apperrors.Unavailable(Name, "model binary not found", fmt.Errorf("%s: %w", b.cmd[0], apperrors.ErrToolNotInstalled))
	}

	// the model runs inside the workspace, so relative inputs must be
	// resolved against the caller's directory first
	input, err := filepath.Abs(path)
	if err != nil {
		return symbolic.Stream{}, fmt.Errorf("resolve audio path: %w", err)
	}
	ws, err := audio.NewWorkspace(b.tempRoot)
	if err != nil {
		return symbolic.Stream{}, err
	}
	defer ws.Cleanup()

	out := ws.Path(outputName)
	args := append([]string{}, b.cmd[1:]...)
	args = append(args, "--audio", input, "--output", out)
	if b.modelPath != "" {
		args = append(args, "--model", b.modelPath)
	}

	command := exec.CommandContext(ctx, b.cmd[0], args...)
	command.Dir = ws.Dir
	command.WaitDelay = waitDelay
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return symbolic.Stream{}, ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return symbolic.Stream{}, apperrors.NewProcessError(b.cmd[0], "transcribe", exitCode, stderr.String(), err)
	}

	stream, err := symbolic.ReadSMFFile(out)
	if err != nil {
		return symbolic.Stream{}, &apperrors.MalformedBackendOutputError{Backend: Name, Snippet: truncate(stderr.String()), Cause: err}
	}
	return stream, nil
}

func truncate(s string) string {
	const limit = 120
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
