package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/metadata"
)

// Info describes a source recording.
type Info struct {
	Path     string
	Format   Format
	Size     int64
	Duration float64
	// DurationEstimated is set when no decoder could measure the file and
	// Duration was approximated from its size.
	DurationEstimated bool
}

// ProbeResult is what a Prober learned about a file.
type ProbeResult struct {
	Duration float64
	Format   Format
}

// Prober measures files the native decoders cannot.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// Inspector validates recordings and measures their duration.
type Inspector struct {
	prober Prober
	log    *slog.Logger
}

// NewInspector builds an Inspector. prober may be nil, in which case only
// WAV files can be measured exactly.
func NewInspector(prober Prober, log *slog.Logger) *Inspector {
	return &Inspector{prober: prober, log: log.With(slog.String("component", "audio-inspect"))}
}

// Inspect validates path and measures it. Files that exist but cannot be
// recognized or decoded fail with an UnsupportedAudioError.
func (i *Inspector) Inspect(ctx context.Context, path string) (Info, error) {
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, apperrors.Unsupported(path, "file does not exist", apperrors.ErrFileNotFound)
	}
	if err != nil {
		return Info{}, apperrors.Unsupported(path, "stat failed", err)
	}
	if st.IsDir() {
		return Info{}, apperrors.Unsupported(path, "path is a directory", apperrors.ErrUnsupportedFormat)
	}
	if st.Size() == 0 {
		return Info{}, apperrors.Unsupported(path, "file is empty", apperrors.ErrCorruptedFile)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return Info{}, apperrors.Unsupported(path, "unreadable header", err)
	}
	info := Info{Path: path, Format: format, Size: st.Size()}

	if format == FormatWAV {
		if d, err := wavDuration(path); err == nil && d > 0 {
			info.Duration = d
			return info, nil
		}
	}

	var inspectErr error = apperrors.ErrToolNotInstalled
	if i.prober != nil {
		var res ProbeResult
		res, inspectErr = i.prober.Probe(ctx, path)
		if inspectErr == nil && res.Duration > 0 {
			// decodable by the prober means transcodable
			info.Duration = res.Duration
			if info.Format == FormatUnknown && res.Format != "" {
				info.Format = res.Format
			}
			return info, nil
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Info{}, ctxErr
	}
	switch {
	case format == FormatUnknown:
		return Info{}, apperrors.Unsupported(path, "unrecognized audio container", fmt.Errorf("%w: %v", apperrors.ErrUnsupportedFormat, inspectErr))
	case inspectErr != nil && !errors.Is(inspectErr, apperrors.ErrToolNotInstalled):
		return Info{}, apperrors.Unsupported(path, "decoder rejected file", inspectErr)
	}

	info.Duration = metadata.EstimateDuration(0, 0, info.Size)
	info.DurationEstimated = true
	i.log.Warn("audio duration estimated from file size",
		slog.String("path", path),
		slog.Float64("duration", info.Duration))
	return info, nil
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: invalid wav header", apperrors.ErrCorruptedFile)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

type ffprobe struct {
	cmd []string
}

type ffprobeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// NewFFprobe returns a Prober backed by the ffprobe command line.
func NewFFprobe(command string) (Prober, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse ffprobe command: %w", err)
	}
	return &ffprobe{cmd: args}, nil
}

func (p *ffprobe) Probe(ctx context.Context, path string) (ProbeResult, error) {
	out, err := run(ctx, p.cmd, "inspect",
		"-v", "error",
		"-show_entries", "format=duration,format_name",
		"-of", "json",
		path)
	if err != nil {
		return ProbeResult{}, err
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	d, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: no duration reported", apperrors.ErrCorruptedFile)
	}
	return ProbeResult{Duration: d, Format: ParseFormat(parsed.Format.FormatName)}, nil
}

func parseCommand(command string) ([]string, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("command is empty")
	}
	return args, nil
}

// waitDelay bounds how long a cancelled command may hold its output pipes
// open through lingering children.
const waitDelay = 2 * time.Second

// run executes cmd with extra args appended, returning stdout. A missing
// binary maps to ErrToolNotInstalled; a failed run to a ProcessError.
func run(ctx context.Context, cmd []string, stage string, extra ...string) ([]byte, error) {
	args := append(append([]string{}, cmd[1:]...), extra...)
	command := exec.CommandContext(ctx, cmd[0], args...)
	command.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", cmd[0], apperrors.ErrToolNotInstalled)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, apperrors.NewProcessError(cmd[0], stage, exitCode, stderr.String(), err)
	}
	return stdout.Bytes(), nil
}
