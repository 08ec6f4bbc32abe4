package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
)

const (
	DefaultSampleSeconds  = 30.0
	DefaultMaxSamples     = 3
	DefaultMaxBitrateKbps = 320
	MinBitrateKbps        = 8

	payloadHeadroom = 0.9
)

// Constraints are the payload limits a backend imposes.
type Constraints struct {
	MaxPayloadBytes int64
	AllowedFormats  []Format
	SampleSeconds   float64
	MaxSamples      int
	MaxBitrateKbps  int
}

func (c Constraints) withDefaults() Constraints {
	if c.SampleSeconds <= 0 {
		c.SampleSeconds = DefaultSampleSeconds
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.MaxBitrateKbps <= 0 {
		c.MaxBitrateKbps = DefaultMaxBitrateKbps
	}
	return c
}

func (c Constraints) fits(size int64) bool {
	return c.MaxPayloadBytes <= 0 || size <= c.MaxPayloadBytes
}

func (c Constraints) allows(f Format) bool {
	return len(c.AllowedFormats) == 0 || slices.Contains(c.AllowedFormats, f)
}

// Sample is one backend payload cut from a recording. Offset+Duration never
// exceeds the recording's duration.
type Sample struct {
	Payload  []byte
	Format   Format
	Offset   float64
	Duration float64
}

// Strategy records how a recording was made to fit.
type Strategy string

const (
	StrategyWhole      Strategy = "whole"
	StrategyTranscoded Strategy = "transcoded"
	StrategySampled    Strategy = "sampled"
)

// Prepared holds the samples for one request. Cleanup must be called on
// every path once the samples are no longer needed.
type Prepared struct {
	Samples   []Sample
	Strategy  Strategy
	workspace *Workspace
}

// Cleanup removes every temporary file created during preparation.
func (p *Prepared) Cleanup() error {
	if p == nil {
		return nil
	}
	return p.workspace.Cleanup()
}

// Preparer fits recordings to backend constraints.
type Preparer struct {
	transcoder Transcoder
	tempRoot   string
	log        *slog.Logger
}

func NewPreparer(transcoder Transcoder, tempRoot string, log *slog.Logger) *Preparer {
	return &Preparer{
		transcoder: transcoder,
		tempRoot:   tempRoot,
		log:        log.With(slog.String("component", "audio-prepare")),
	}
}

// Prepare returns the whole recording when it fits, otherwise a transcode
// at a bitrate derived from the limit, otherwise fixed-length samples from
// the start, middle and end.
func (p *Preparer) Prepare(ctx context.Context, info Info, c Constraints) (prepared *Prepared, err error) {
	c = c.withDefaults()

	if c.fits(info.Size) && c.allows(info.Format) {
		data, err := os.ReadFile(info.Path)
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
		return &Prepared{
			Strategy: StrategyWhole,
			Samples:  []Sample{{Payload: data, Format: info.Format, Offset: 0, Duration: info.Duration}},
		}, nil
	}

	ws, err := NewWorkspace(p.tempRoot)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = ws.Cleanup()
		}
	}()

	bitrate := TargetBitrate(c.MaxPayloadBytes, info.Duration, c.MaxBitrateKbps)
	out, terr := p.transcoder.Transcode(ctx, Job{
		Source:      info.Path,
		SourceFmt:   info.Format,
		Dir:         ws.Dir,
		Name:        "transcoded",
		BitrateKbps: bitrate,
	})
	if terr == nil {
		data, rerr := os.ReadFile(out.Path)
		if rerr != nil {
			return nil, fmt.Errorf("read transcoded audio: %w", rerr)
		}
		if c.fits(int64(len(data))) && c.allows(out.Format) {
			p.log.Info("audio transcoded to fit payload limit",
				slog.Int("bitrate_kbps", bitrate),
				slog.Int("bytes", len(data)))
			return &Prepared{
				Strategy:  StrategyTranscoded,
				workspace: ws,
				Samples:   []Sample{{Payload: data, Format: out.Format, Offset: 0, Duration: info.Duration}},
			}, nil
		}
		_ = os.Remove(out.Path)
	} else {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn("audio transcode failed, sampling instead", slog.String("error", terr.Error()))
	}

	samples := make([]Sample, 0, c.MaxSamples)
	for i, w := range SampleWindows(info.Duration, c.SampleSeconds, c.MaxSamples) {
		out, err := p.transcoder.Transcode(ctx, Job{
			Source:      info.Path,
			SourceFmt:   info.Format,
			Dir:         ws.Dir,
			Name:        fmt.Sprintf("sample-%d", i),
			Offset:      w.Offset,
			Duration:    w.Duration,
			BitrateKbps: min(c.MaxBitrateKbps, 128),
		})
		if err != nil {
			return nil, fmt.Errorf("extract sample at %.1fs: %w", w.Offset, err)
		}
		data, err := os.ReadFile(out.Path)
		if err != nil {
			return nil, fmt.Errorf("read sample: %w", err)
		}
		samples = append(samples, Sample{Payload: data, Format: out.Format, Offset: w.Offset, Duration: w.Duration})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples could be cut from %.1fs recording", info.Duration)
	}
	p.log.Info("audio sampled to fit payload limit", slog.Int("samples", len(samples)))
	return &Prepared{Strategy: StrategySampled, Samples: samples, workspace: ws}, nil
}

// TargetBitrate is the kbps at which duration seconds of audio use 90% of
// limitBytes, capped at maxKbps.
func TargetBitrate(limitBytes int64, duration float64, maxKbps int) int {
	if maxKbps <= 0 {
		maxKbps = DefaultMaxBitrateKbps
	}
	if limitBytes <= 0 || duration <= 0 {
		return maxKbps
	}
	kbps := int(math.Floor(float64(limitBytes) * payloadHeadroom * 8 / duration / 1000))
	return max(MinBitrateKbps, min(kbps, maxKbps))
}

// Window is a span of a recording.
type Window struct {
	Offset   float64
	Duration float64
}

// SampleWindows places up to maxSamples windows of length seconds at the
// start, midpoint and end of a recording. Each is clipped to the
// recording's end, and a window sharing more than half of itself with an
// earlier one is dropped so merged notes are not doubled.
func SampleWindows(duration, length float64, maxSamples int) []Window {
	if duration <= 0 || length <= 0 || maxSamples <= 0 {
		return nil
	}
	candidates := []float64{0, duration / 2, math.Max(0, duration-length)}
	var out []Window
	for _, off := range candidates {
		if len(out) == maxSamples {
			break
		}
		if off >= duration {
			continue
		}
		w := Window{Offset: off, Duration: math.Min(length, duration-off)}
		if slices.ContainsFunc(out, func(prev Window) bool { return overlap(prev, w) > w.Duration/2 }) {
			continue
		}
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b Window) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	return out
}

func overlap(a, b Window) float64 {
	start := math.Max(a.Offset, b.Offset)
	end := math.Min(a.Offset+a.Duration, b.Offset+b.Duration)
	return math.Max(0, end-start)
}
