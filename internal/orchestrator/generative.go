package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/riffscribe/riffcore/internal/audio"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/generative"
	"github.com/riffscribe/riffcore/internal/metadata"
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/normalize"
)

// sampleOutcome is what one goroutine learned about one sample. Each
// goroutine writes only its own slot.
type sampleOutcome struct {
	index    int
	offset   float64
	analysis normalize.Analysis
	err      error
}

func (s sampleOutcome) ok() bool { return s.err == nil }

func (o *Orchestrator) tryGenerative(ctx context.Context, req request) (*model.Result, *failure) {
	if o.generative == nil {
		return nil, newFailure(generative.Name, apperrors.Unavailable(generative.Name, "disabled", nil))
	}
	if o.opts.GenerativeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.GenerativeTimeout)
		defer cancel()
	}

	prepared, err := o.preparer.Prepare(ctx, req.info, o.opts.Constraints)
	if err != nil {
		return nil, newFailure(generative.Name, fmt.Errorf("prepare audio: %w", err))
	}
	defer func() {
		if err := prepared.Cleanup(); err != nil {
			o.logger.Warn("failed to remove sample workspace", slog.String("error", err.Error()))
		}
	}()

	outcomes := o.analyzeSamples(ctx, prepared)
	merged, warnings := mergeSamples(outcomes, o.opts.MetadataPolicy)

	if len(merged.analysis.Notes) == 0 {
		err := apperrors.ErrNoUsableNotes
		if merged.successes == 0 {
			err = errors.Join(merged.errs...)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, newFailure(generative.Name, err)
	}

	notes := o.classifier.Classify(merged.analysis.Notes)
	hints := metadata.Hints{
		Tempo:         merged.analysis.Tempo,
		Key:           merged.analysis.Key,
		TimeSignature: merged.analysis.TimeSignature,
	}
	// a sample's reported length says nothing about the whole recording
	if prepared.Strategy != audio.StrategySampled {
		hints.Duration = merged.analysis.Duration
	}
	song := metadata.Estimate(metadata.Input{
		Hints:          hints,
		Features:       req.features,
		Notes:          notes,
		ContainerDuration: req.info.Duration,
		FileSize:       req.info.Size,
	})

	result := model.NewResult(notes, song, model.SourceGenerative, normalize.DefaultGenerativeConfidence)
	result.Samples = len(prepared.Samples)
	result.Warnings = warnings
	return result, nil
}

// analyzeSamples sends every sample to the backend, at most MaxConcurrency
// at a time, and returns the outcomes in sample order.
func (o *Orchestrator) analyzeSamples(ctx context.Context, prepared *audio.Prepared) []sampleOutcome {
	outcomes := make([]sampleOutcome, len(prepared.Samples))
	sampled := prepared.Strategy == audio.StrategySampled

	var g errgroup.Group
	g.SetLimit(o.opts.MaxConcurrency)
	for i, sample := range prepared.Samples {
		g.Go(func() error {
			out := sampleOutcome{index: i, offset: sample.Offset}
			promptIndex := -1
			if sampled {
				promptIndex = i
			}
			text, err := o.generative.Analyze(ctx, generative.Request{
				AudioBase64: base64.StdEncoding.EncodeToString(sample.Payload),
				Format:      string(sample.Format),
				Prompt:      generative.Prompt(promptIndex, sample.Offset),
			})
			if err != nil {
				out.err = err
				outcomes[i] = out
				return nil
			}
			analysis, err := normalize.ParseAnalysis(generative.Name, text)
			out.analysis = analysis.Shift(sample.Offset)
			out.err = err
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

type mergedAnalysis struct {
	analysis  normalize.Analysis
	successes int
	errs      []error
}

// mergeSamples combines per-sample analyses in offset order. Notes are
// already shifted to recording time; they are concatenated and stably
// sorted by onset.
func mergeSamples(outcomes []sampleOutcome, policy MetadataPolicy) (mergedAnalysis, []string) {
	ordered := make([]sampleOutcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].offset < ordered[j].offset })

	var (
		m        mergedAnalysis
		warnings []string
		parsed   []normalize.Analysis
	)
	for _, out := range ordered {
		if !out.ok() {
			m.errs = append(m.errs, out.err)
			warnings = append(warnings, fmt.Sprintf("generative sample %d at %gs failed: %v", out.index+1, out.offset, out.err))
			continue
		}
		m.successes++
		parsed = append(parsed, out.analysis)
		m.analysis.Notes = append(m.analysis.Notes, out.analysis.Notes...)
		m.analysis.RhythmSections = append(m.analysis.RhythmSections, out.analysis.RhythmSections...)
	}
	model.SortNotes(m.analysis.Notes)

	if len(parsed) == 0 {
		return m, warnings
	}
	first := parsed[0]
	m.analysis.TimeSignature = first.TimeSignature
	m.analysis.Structure = first.Structure
	m.analysis.Detected = first.Detected
	m.analysis.Duration = first.Duration
	switch policy {
	case MetadataConsensus:
		m.analysis.Tempo = medianTempo(parsed)
		m.analysis.Key = commonKey(parsed)
	default:
		m.analysis.Tempo = first.Tempo
		m.analysis.Key = first.Key
	}
	return m, warnings
}

func medianTempo(analyses []normalize.Analysis) float64 {
	var tempos []float64
	for _, a := range analyses {
		if a.Tempo > 0 {
			tempos = append(tempos, a.Tempo)
		}
	}
	if len(tempos) == 0 {
		return 0
	}
	sort.Float64s(tempos)
	return stat.Quantile(0.5, stat.Empirical, tempos, nil)
}

// commonKey returns the most frequently reported key, preferring the
// earliest sample on ties.
func commonKey(analyses []normalize.Analysis) string {
	counts := make(map[string]int)
	var order []string
	for _, a := range analyses {
		k := strings.TrimSpace(a.Key)
		if k == "" || strings.EqualFold(k, model.UnknownKey) {
			continue
		}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	best := ""
	for _, k := range order {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}
