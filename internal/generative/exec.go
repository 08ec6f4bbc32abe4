package generative

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

type execBackend struct {
	cmd []string
}

type execRequest struct {
	Prompt      string `json:"prompt"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
}

type execResponse struct {
	Content string `json:"content"`
}

// NewExec returns a Backend that pipes each request as JSON into command and
// reads {"content": "..."} from its stdout.
func NewExec(command string) (Backend, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("%w: parse generative command: %v", apperrors.ErrInvalidConfig, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: generative command empty", apperrors.ErrInvalidConfig)
	}
	return &execBackend{cmd: args}, nil
}

func (b *execBackend) Name() string { return Name }

func (b *execBackend) Analyze(ctx context.Context, req Request) (string, error) {
	if _, err := exec.LookPath(b.cmd[0]); err != nil {
		return "", apperrors.Unavailable(Name, "analysis command not found", fmt.Errorf("%s: %w", b.cmd[0], apperrors.ErrToolNotInstalled))
	}
	input, err := json.Marshal(execRequest{Prompt: req.Prompt, AudioBase64: req.AudioBase64, Format: req.Format})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, b.cmd[0], b.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", apperrors.NewProcessError(b.cmd[0], "analyze", exitCode, stderr.String(), err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", &apperrors.MalformedBackendOutputError{Backend: Name, Snippet: truncate(output, 120), Cause: err}
	}
	return resp.Content, nil
}
