package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/riffscribe/riffcore/internal/errors"
)

// ErrCannotCompress is returned by transcoders that can cut a recording
// but not re-encode it at a lower bitrate.
var ErrCannotCompress = errors.New("transcoder cannot compress")

// Job describes one transcode. A zero Duration means "to the end"; a zero
// Offset and Duration re-encode the whole file.
type Job struct {
	Source      string
	SourceFmt   Format
	Dir         string
	Name        string
	Offset      float64
	Duration    float64
	BitrateKbps int
}

func (j Job) whole() bool { return j.Offset == 0 && j.Duration == 0 }

// Output is the file a Job produced.
type Output struct {
	Path   string
	Format Format
}

// Transcoder re-encodes or cuts recordings.
type Transcoder interface {
	Transcode(ctx context.Context, job Job) (Output, error)
}

type ffmpeg struct {
	cmd []string
}

// NewFFmpeg returns a Transcoder that writes mp3 through the ffmpeg
// command line.
func NewFFmpeg(command string) (Transcoder, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	return &ffmpeg{cmd: args}, nil
}

func (f *ffmpeg) Transcode(ctx context.Context, job Job) (Output, error) {
	dst := filepath.Join(job.Dir, job.Name+".mp3")
	args := []string{"-y", "-v", "error"}
	if job.Offset > 0 {
		args = append(args, "-ss", formatSeconds(job.Offset))
	}
	args = append(args, "-i", job.Source)
	if job.Duration > 0 {
		args = append(args, "-t", formatSeconds(job.Duration))
	}
	args = append(args, "-vn", "-codec:a", "libmp3lame")
	if job.BitrateKbps > 0 {
		args = append(args, "-b:a", strconv.Itoa(job.BitrateKbps)+"k")
	}
	args = append(args, "-f", "mp3", dst)

	if _, err := run(ctx, f.cmd, "transcode", args...); err != nil {
		return Output{}, err
	}
	return Output{Path: dst, Format: FormatMP3}, nil
}

type wavCutter struct{}

// NewWAVCutter returns a Transcoder that cuts PCM WAV sources natively.
// It cannot lower a bitrate, so whole-file jobs fail with ErrCannotCompress.
func NewWAVCutter() Transcoder { return wavCutter{} }

func (wavCutter) Transcode(_ context.Context, job Job) (Output, error) {
	if job.SourceFmt != FormatWAV {
		return Output{}, fmt.Errorf("wav cutter: %w: %s", apperrors.ErrUnsupportedFormat, job.SourceFmt)
	}
	if job.whole() {
		return Output{}, ErrCannotCompress
	}

	in, err := os.Open(job.Source)
	if err != nil {
		return Output{}, fmt.Errorf("open wav: %w", err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		return Output{}, fmt.Errorf("%w: invalid wav header", apperrors.ErrCorruptedFile)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Output{}, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	rate := int(dec.SampleRate)
	if channels <= 0 || rate <= 0 {
		return Output{}, fmt.Errorf("%w: wav without format", apperrors.ErrCorruptedFile)
	}
	frames := len(buf.Data) / channels
	from := min(frames, int(job.Offset*float64(rate)))
	to := frames
	if job.Duration > 0 {
		to = min(frames, from+int(job.Duration*float64(rate)))
	}

	slice := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           buf.Data[from*channels : to*channels],
		SourceBitDepth: int(dec.BitDepth),
	}

	dst := filepath.Join(job.Dir, job.Name+".wav")
	out, err := os.Create(dst)
	if err != nil {
		return Output{}, fmt.Errorf("create wav: %w", err)
	}
	defer out.Close()

	enc := wav.NewEncoder(out, rate, int(dec.BitDepth), channels, 1)
	if err := enc.Write(slice); err != nil {
		return Output{}, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Output{}, fmt.Errorf("close wav encoder: %w", err)
	}
	return Output{Path: dst, Format: FormatWAV}, nil
}

type chain []Transcoder

// Chain tries each transcoder in turn until one succeeds.
func Chain(transcoders ...Transcoder) Transcoder {
	return chain(transcoders)
}

func (c chain) Transcode(ctx context.Context, job Job) (Output, error) {
	var errs []error
	for _, t := range c {
		out, err := t.Transcode(ctx, job)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Output{}, fmt.Errorf("no transcoder configured: %w", apperrors.ErrToolNotInstalled)
	}
	return Output{}, errors.Join(errs...)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
