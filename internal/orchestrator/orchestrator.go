// Package orchestrator turns a recording into a Result by trying each
// transcription backend in turn and falling back to a synthetic
// transcription when none of them yields notes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/riffscribe/riffcore/internal/audio"
	"github.com/riffscribe/riffcore/internal/classify"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/generative"
	"github.com/riffscribe/riffcore/internal/metadata"
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/normalize"
	"github.com/riffscribe/riffcore/internal/precise"
	"github.com/riffscribe/riffcore/internal/signal"
	"github.com/riffscribe/riffcore/internal/synth"
)

const instrumentationName = "github.com/riffscribe/riffcore/internal/orchestrator"

// MetadataPolicy selects how song metadata is chosen when several
// generative samples report it.
type MetadataPolicy string

const (
	// MetadataFirst takes the first sample, in offset order, that parsed.
	MetadataFirst MetadataPolicy = "first"
	// MetadataConsensus takes the median tempo and the most frequent key.
	MetadataConsensus MetadataPolicy = "consensus"
)

// Inspector validates a recording before any backend sees it.
type Inspector interface {
	Inspect(ctx context.Context, path string) (audio.Info, error)
}

// Preparer fits a recording to the generative backend's payload limits.
type Preparer interface {
	Prepare(ctx context.Context, info audio.Info, c audio.Constraints) (*audio.Prepared, error)
}

// Options tunes the fallback chain.
type Options struct {
	Order             []State
	PreciseTimeout    time.Duration
	GenerativeTimeout time.Duration
	SignalTimeout     time.Duration
	MaxConcurrency    int
	MetadataPolicy    MetadataPolicy
	Constraints       audio.Constraints
	Classifier        classify.Options
}

// Deps are the collaborators of an Orchestrator. A nil backend is treated
// as disabled; a nil Signal disables signal analysis.
type Deps struct {
	Inspector      Inspector
	Preparer       Preparer
	Precise        precise.Backend
	Generative     generative.Backend
	Signal         signal.Analyzer
	Logger         *slog.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Orchestrator runs the fallback chain. It is safe for concurrent use.
type Orchestrator struct {
	opts       Options
	plan       plan
	inspector  Inspector
	preparer   Preparer
	precise    precise.Backend
	generative generative.Backend
	signal     signal.Analyzer
	classifier *classify.Classifier
	synthetic  *classify.Classifier
	tracer     trace.Tracer
	metrics    *instruments
	logger     *slog.Logger
}

func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Inspector == nil {
		return nil, fmt.Errorf("%w: orchestrator requires an inspector", apperrors.ErrInvalidConfig)
	}
	if deps.Preparer == nil && deps.Generative != nil {
		return nil, fmt.Errorf("%w: generative backend requires a preparer", apperrors.ErrInvalidConfig)
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	switch opts.MetadataPolicy {
	case "":
		opts.MetadataPolicy = MetadataFirst
	case MetadataFirst, MetadataConsensus:
	default:
		return nil, fmt.Errorf("%w: unknown metadata policy %q", apperrors.ErrInvalidConfig, opts.MetadataPolicy)
	}
	if deps.Signal == nil {
		deps.Signal = signal.None()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = otel.GetMeterProvider()
	}
	if deps.TracerProvider == nil {
		deps.TracerProvider = otel.GetTracerProvider()
	}
	metrics, err := newInstruments(deps.MeterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	// synthesized notes carry their own labels and must keep them
	synthOpts := opts.Classifier
	synthOpts.TrustBackendLabels = true

	return &Orchestrator{
		opts:       opts,
		plan:       newPlan(opts.Order),
		inspector:  deps.Inspector,
		preparer:   deps.Preparer,
		precise:    deps.Precise,
		generative: deps.Generative,
		signal:     deps.Signal,
		classifier: classify.New(opts.Classifier),
		synthetic:  classify.New(synthOpts),
		tracer:     deps.TracerProvider.Tracer(instrumentationName),
		metrics:    metrics,
		logger:     deps.Logger.With(slog.String("component", "orchestrator")),
	}, nil
}

// request is the state shared by every attempt for one recording.
type request struct {
	info     audio.Info
	features *signal.Features
}

// failure explains why an attempt did not produce a result.
type failure struct {
	backend string
	reason  string
	err     error
}

func (f *failure) warning() string {
	return fmt.Sprintf("%s backend %s: %v", f.backend, f.reason, f.err)
}

func newFailure(backend string, err error) *failure {
	return &failure{backend: backend, reason: classifyFailure(err), err: err}
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case apperrors.IsBackendUnavailable(err):
		return "unavailable"
	case apperrors.IsMalformedOutput(err):
		return "malformed"
	case errors.Is(err, apperrors.ErrNoUsableNotes):
		return "empty"
	default:
		return "error"
	}
}

// Transcribe produces a Result for the recording at path. Only unusable
// audio and caller cancellation are reported as errors; backend failures
// are recorded in the Result's Warnings and the chain moves on, ending in
// a synthetic transcription.
func (o *Orchestrator) Transcribe(ctx context.Context, path string) (*model.Result, error) {
	// backends may run from their own working directories
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.Unsupported(path, "cannot resolve path", err)
	}
	path = abs

	ctx, span := o.tracer.Start(ctx, "riffcore.transcribe", trace.WithAttributes(attribute.String("audio.path", path)))
	defer span.End()

	info, err := o.inspector.Inspect(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unsupported audio")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("audio.format", string(info.Format)),
		attribute.Float64("audio.duration", info.Duration),
	)

	req := request{info: info}
	var warnings []string
	req.features, warnings = o.analyzeSignal(ctx, info.Path)

	for state := o.plan.first(); state != StateDone; state = o.plan.next(state) {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}

		result, f := o.attempt(ctx, state, req)
		if f == nil {
			result.Warnings = append(warnings, result.Warnings...)
			o.metrics.recordResult(ctx, result.SourceBackend)
			span.SetAttributes(
				attribute.String("riffcore.source_backend", string(result.SourceBackend)),
				attribute.Int("riffcore.notes", len(result.Notes)),
			)
			o.logger.Info("transcription complete",
				slog.String("path", path),
				slog.String("source_backend", string(result.SourceBackend)),
				slog.Int("notes", len(result.Notes)),
				slog.Int("warnings", len(result.Warnings)))
			return result, nil
		}

		o.logger.Warn("backend attempt failed",
			slog.String("path", path),
			slog.String("state", state.String()),
			slog.String("backend", f.backend),
			slog.String("reason", f.reason),
			slog.String("error", f.err.Error()))
		warnings = append(warnings, f.warning())
	}
	// synthesis cannot fail, so the loop always returns
	return nil, errors.New("orchestrator: fallback chain ended without a result")
}

// attempt runs one state under its own span and records its outcome.
func (o *Orchestrator) attempt(ctx context.Context, state State, req request) (*model.Result, *failure) {
	ctx, span := o.tracer.Start(ctx, "riffcore.attempt", trace.WithAttributes(attribute.String("riffcore.state", state.String())))
	defer span.End()

	start := time.Now()
	var (
		backend string
		result  *model.Result
		f       *failure
	)
	switch state {
	case StateTryPrecise:
		backend = precise.Name
		result, f = o.tryPrecise(ctx, req)
	case StateTryGenerative:
		backend = generative.Name
		result, f = o.tryGenerative(ctx, req)
	case StateSynthesize:
		backend = string(model.SourceSynthetic)
		result = o.synthesize(req)
	default:
		return nil, &failure{backend: state.String(), reason: "error", err: errors.New("not an attempt state")}
	}

	o.metrics.recordAttempt(ctx, backend, time.Since(start), f)
	if f != nil {
		span.RecordError(f.err)
		span.SetStatus(codes.Error, f.reason)
	}
	return result, f
}

func (o *Orchestrator) tryPrecise(ctx context.Context, req request) (*model.Result, *failure) {
	if o.precise == nil {
		return nil, newFailure(precise.Name, apperrors.Unavailable(precise.Name, "disabled", nil))
	}
	if o.opts.PreciseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PreciseTimeout)
		defer cancel()
	}

	stream, err := o.precise.Transcribe(ctx, req.info.Path)
	if err != nil {
		return nil, newFailure(precise.Name, err)
	}
	notes := o.classifier.Classify(normalize.FromStream(stream))
	if len(notes) == 0 {
		return nil, newFailure(precise.Name, apperrors.ErrNoUsableNotes)
	}

	song := metadata.Estimate(metadata.Input{
		Features:       req.features,
		Notes:          notes,
		ContainerDuration: req.info.Duration,
		FileSize:       req.info.Size,
	})
	return model.NewResult(notes, song, model.SourcePrecise, meanConfidence(notes)), nil
}

func (o *Orchestrator) synthesize(req request) *model.Result {
	song := synth.Song(req.info.Duration)
	notes := o.synthetic.Classify(synth.Generate(req.info.Duration))
	return model.NewResult(notes, song, model.SourceSynthetic, synth.Confidence)
}

// analyzeSignal runs the optional signal analyzer. Its absence is silent;
// its failure only costs metadata quality and is reported as a warning.
func (o *Orchestrator) analyzeSignal(ctx context.Context, path string) (*signal.Features, []string) {
	if o.opts.SignalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.SignalTimeout)
		defer cancel()
	}
	features, err := o.signal.Analyze(ctx, path)
	switch {
	case err == nil:
		return features, nil
	case errors.Is(err, signal.ErrUnavailable):
		return nil, nil
	default:
		o.logger.Warn("signal analysis failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, []string{fmt.Sprintf("signal analysis failed: %v", err)}
	}
}

func meanConfidence(notes []model.NoteEvent) float64 {
	if len(notes) == 0 {
		return 0
	}
	var sum float64
	for _, n := range notes {
		sum += n.Confidence
	}
	return model.ClampUnit(sum / float64(len(notes)))
}
