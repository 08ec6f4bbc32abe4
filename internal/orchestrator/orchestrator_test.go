package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/riffscribe/riffcore/internal/audio"
	"github.com/riffscribe/riffcore/internal/classify"
	"github.com/riffscribe/riffcore/internal/config"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/generative"
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/symbolic"
	"github.com/riffscribe/riffcore/internal/synth"
)

var songInfo = audio.Info{Path: "/music/song.mp3", Format: audio.FormatMP3, Size: 4_000_000, Duration: 150}

type fakeInspector struct {
	info audio.Info
	err  error
}

func (f fakeInspector) Inspect(context.Context, string) (audio.Info, error) { return f.info, f.err }

type fakePreparer struct {
	prepared *audio.Prepared
	err      error
}

func (f *fakePreparer) Prepare(context.Context, audio.Info, audio.Constraints) (*audio.Prepared, error) {
	return f.prepared, f.err
}

type fakePrecise struct {
	stream symbolic.Stream
	err    error
	block  bool
	calls  atomic.Int32
}

func (f *fakePrecise) Name() string { return "precise" }

func (f *fakePrecise) Transcribe(ctx context.Context, _ string) (symbolic.Stream, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return symbolic.Stream{}, ctx.Err()
	}
	return f.stream, f.err
}

type fakeGenerative struct {
	respond func(req generative.Request) (string, error)

	mu          sync.Mutex
	prompts     []string
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeGenerative) Name() string { return "generative" }

func (f *fakeGenerative) Analyze(_ context.Context, req generative.Request) (string, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		cur := f.maxInflight.Load()
		if n <= cur || f.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	return f.respond(req)
}

type wireNote struct {
	Instrument string  `json:"instrument"`
	MidiNote   int     `json:"midi_note"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

func analysisJSON(tempo float64, key string, notes ...wireNote) string {
	body, _ := json.Marshal(map[string]any{
		"song_analysis":  map[string]any{"tempo": tempo, "key": key, "time_signature": "4/4"},
		"complete_notes": notes,
	})
	return string(body)
}

func noteStream(pitches ...uint8) symbolic.Stream {
	var s symbolic.Stream
	for i, p := range pitches {
		on := uint64(i * symbolic.TicksPerSecond / 2)
		s.Events = append(s.Events,
			symbolic.Event{Tick: on, Pitch: p, Velocity: 90, Kind: symbolic.NoteOn},
			symbolic.Event{Tick: on + symbolic.TicksPerSecond/4, Pitch: p, Kind: symbolic.NoteOff},
		)
	}
	s.Sort()
	return s
}

func sampled(offsets ...float64) *audio.Prepared {
	p := &audio.Prepared{Strategy: audio.StrategySampled}
	for _, off := range offsets {
		p.Samples = append(p.Samples, audio.Sample{Payload: []byte("mp3"), Format: audio.FormatMP3, Offset: off, Duration: 30})
	}
	return p
}

func whole() *audio.Prepared {
	return &audio.Prepared{Strategy: audio.StrategyWhole, Samples: []audio.Sample{{Payload: []byte("mp3"), Format: audio.FormatMP3, Duration: 150}}}
}

func defaultOptions() Options {
	return Options{
		Order:             []State{StateTryPrecise, StateTryGenerative},
		PreciseTimeout:    time.Second,
		GenerativeTimeout: time.Second,
		MaxConcurrency:    3,
		Classifier:        classify.DefaultOptions(),
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrchestrator(t *testing.T, opts Options, deps Deps) (*Orchestrator, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	if len(opts.Classifier.Guitar.Strings) == 0 {
		opts.Classifier = classify.DefaultOptions()
	}
	if deps.Inspector == nil {
		deps.Inspector = fakeInspector{info: songInfo}
	}
	deps.Logger = newLogger()
	deps.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	o, err := New(opts, deps)
	require.NoError(t, err)
	return o, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string, attr string, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(attr)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestPreciseSuccess(t *testing.T) {
	gen := &fakeGenerative{respond: func(generative.Request) (string, error) { return "", errors.New("should not be called") }}
	o, reader := newOrchestrator(t, defaultOptions(), Deps{
		Precise:    &fakePrecise{stream: noteStream(64, 67, 69, 71, 72, 45)},
		Generative: gen,
		Preparer:   &fakePreparer{prepared: whole()},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourcePrecise, res.SourceBackend)
	assert.Len(t, res.Notes, 6)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, 120.0, res.Tempo)
	assert.Equal(t, 150.0, res.Duration)
	assert.Empty(t, res.Warnings)
	for _, n := range res.Notes {
		assert.True(t, n.HasTab)
	}
	assert.Empty(t, gen.prompts)
	assert.Equal(t, int64(1), counter(t, reader, "riffcore.transcriptions", "source_backend", "precise"))
}

func TestBothBackendsFailFallsBackToSynthetic(t *testing.T) {
	o, reader := newOrchestrator(t, defaultOptions(), Deps{
		Precise:    &fakePrecise{err: apperrors.Unavailable("precise", "model binary not found", apperrors.ErrToolNotInstalled)},
		Generative: &fakeGenerative{respond: func(generative.Request) (string, error) { return "", errors.New("http 500: boom") }},
		Preparer:   &fakePreparer{prepared: whole()},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourceSynthetic, res.SourceBackend)
	assert.Equal(t, synth.Confidence, res.Confidence)
	assert.Equal(t, "C major", res.Key)
	assert.Equal(t, 120.0, res.Tempo)
	assert.NotEmpty(t, res.Notes)
	assert.ElementsMatch(t, []model.Instrument{model.Guitar, model.Bass}, res.InstrumentsDetected)
	for _, n := range res.Notes {
		assert.True(t, n.HasTab, "synthetic notes carry tablature")
	}

	require.Len(t, res.Warnings, 3)
	assert.Contains(t, res.Warnings[0], "precise backend unavailable")
	assert.Contains(t, res.Warnings[1], "generative sample 1")
	assert.Contains(t, res.Warnings[2], "generative backend error")

	assert.Equal(t, int64(1), counter(t, reader, "riffcore.backend.failures", "backend", "precise"))
	assert.Equal(t, int64(1), counter(t, reader, "riffcore.backend.failures", "backend", "generative"))
	assert.Equal(t, int64(1), counter(t, reader, "riffcore.transcriptions", "source_backend", "synthetic-fallback"))
}

func TestSampledGenerativeShiftsNotes(t *testing.T) {
	gen := &fakeGenerative{respond: func(generative.Request) (string, error) {
		return analysisJSON(100, "E minor", wireNote{Instrument: "guitar", MidiNote: 64, StartTime: 5.0, EndTime: 5.5}), nil
	}}
	o, _ := newOrchestrator(t, defaultOptions(), Deps{
		Precise:    &fakePrecise{stream: symbolic.Stream{}},
		Generative: gen,
		Preparer:   &fakePreparer{prepared: sampled(0, 60, 120)},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGenerative, res.SourceBackend)
	assert.Equal(t, 3, res.Samples)
	require.Len(t, res.Notes, 3)
	assert.Equal(t, 5.0, res.Notes[0].StartTime)
	assert.Equal(t, 65.0, res.Notes[1].StartTime)
	assert.Equal(t, 125.0, res.Notes[2].StartTime)
	assert.InDelta(t, 125.5, res.Notes[2].EndTime, 1e-9)
	assert.Equal(t, 100.0, res.Tempo)
	assert.Equal(t, "E minor", res.Key)
	assert.Equal(t, 150.0, res.Duration)
	assert.Equal(t, 0.8, res.Confidence)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "precise backend empty")

	var markers []string
	for _, p := range gen.prompts {
		markers = append(markers, p[strings.LastIndex(p, "ANALYZING SAMPLE"):])
	}
	assert.ElementsMatch(t, []string{
		"ANALYZING SAMPLE 1 from position 0s",
		"ANALYZING SAMPLE 2 from position 60s",
		"ANALYZING SAMPLE 3 from position 120s",
	}, markers)
}

func TestPartialSampleFailure(t *testing.T) {
	gen := &fakeGenerative{respond: func(req generative.Request) (string, error) {
		if strings.Contains(req.Prompt, "SAMPLE 2 ") {
			return "", errors.New("http 503")
		}
		return analysisJSON(110, "A minor", wireNote{Instrument: "bass", MidiNote: 40, StartTime: 1, EndTime: 2}), nil
	}}
	o, _ := newOrchestrator(t, Options{Order: []State{StateTryGenerative}, MaxConcurrency: 3}, Deps{
		Generative: gen,
		Preparer:   &fakePreparer{prepared: sampled(0, 60, 120)},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGenerative, res.SourceBackend)
	require.Len(t, res.Notes, 2)
	assert.Equal(t, 1.0, res.Notes[0].StartTime)
	assert.Equal(t, 121.0, res.Notes[1].StartTime)
	assert.Equal(t, model.Bass, res.Notes[0].Instrument)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "generative sample 2 at 60s failed")
}

func TestGenerativeConcurrencyIsBounded(t *testing.T) {
	gen := &fakeGenerative{respond: func(generative.Request) (string, error) {
		return analysisJSON(120, "C major", wireNote{Instrument: "guitar", MidiNote: 60, StartTime: 0, EndTime: 1}), nil
	}}
	opts := Options{Order: []State{StateTryGenerative}, MaxConcurrency: 2}
	o, _ := newOrchestrator(t, opts, Deps{
		Generative: gen,
		Preparer:   &fakePreparer{prepared: sampled(0, 10, 20, 30, 40, 50)},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Len(t, res.Notes, 6)
	assert.LessOrEqual(t, gen.maxInflight.Load(), int32(2))
}

func TestConsensusMetadata(t *testing.T) {
	answers := map[string]string{
		"SAMPLE 1 ": analysisJSON(90, "D major", wireNote{Instrument: "guitar", MidiNote: 62, StartTime: 0, EndTime: 1}),
		"SAMPLE 2 ": analysisJSON(128, "B minor", wireNote{Instrument: "guitar", MidiNote: 62, StartTime: 0, EndTime: 1}),
		"SAMPLE 3 ": analysisJSON(126, "B minor", wireNote{Instrument: "guitar", MidiNote: 62, StartTime: 0, EndTime: 1}),
	}
	respond := func(req generative.Request) (string, error) {
		for marker, answer := range answers {
			if strings.Contains(req.Prompt, marker) {
				return answer, nil
			}
		}
		return "", errors.New("unexpected prompt")
	}

	opts := Options{Order: []State{StateTryGenerative}, MetadataPolicy: MetadataConsensus}
	o, _ := newOrchestrator(t, opts, Deps{Generative: &fakeGenerative{respond: respond}, Preparer: &fakePreparer{prepared: sampled(0, 60, 120)}})
	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, 126.0, res.Tempo)
	assert.Equal(t, "B minor", res.Key)

	opts.MetadataPolicy = MetadataFirst
	o, _ = newOrchestrator(t, opts, Deps{Generative: &fakeGenerative{respond: respond}, Preparer: &fakePreparer{prepared: sampled(0, 60, 120)}})
	res, err = o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, 90.0, res.Tempo)
	assert.Equal(t, "D major", res.Key)
}

func TestUnsupportedAudioIsSurfaced(t *testing.T) {
	p := &fakePrecise{stream: noteStream(64)}
	o, _ := newOrchestrator(t, defaultOptions(), Deps{
		Inspector: fakeInspector{err: apperrors.Unsupported("/music/notes.txt", "unrecognized audio container", apperrors.ErrUnsupportedFormat)},
		Precise:   p,
	})

	res, err := o.Transcribe(context.Background(), "/music/notes.txt")
	assert.Nil(t, res)
	assert.True(t, apperrors.IsUnsupportedAudio(err))
	assert.Equal(t, int32(0), p.calls.Load())
}

type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *pathRecorder) Inspect(_ context.Context, path string) (audio.Info, error) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	info := songInfo
	info.Path = path
	return info, nil
}

func TestRelativePathResolvedBeforeBackends(t *testing.T) {
	t.Chdir(t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)

	insp := &pathRecorder{}
	o, _ := newOrchestrator(t, defaultOptions(), Deps{
		Inspector: insp,
		Precise:   &fakePrecise{stream: noteStream(64, 67)},
		Preparer:  &fakePreparer{prepared: whole()},
	})

	res, err := o.Transcribe(context.Background(), "take.wav")
	require.NoError(t, err)
	assert.Equal(t, model.SourcePrecise, res.SourceBackend)
	assert.Equal(t, []string{filepath.Join(wd, "take.wav")}, insp.paths)
}

func TestPreciseTimeoutAdvances(t *testing.T) {
	opts := defaultOptions()
	opts.PreciseTimeout = 20 * time.Millisecond
	gen := &fakeGenerative{respond: func(generative.Request) (string, error) {
		return analysisJSON(0, "", wireNote{Instrument: "guitar", MidiNote: 64, StartTime: 0, EndTime: 0.5}), nil
	}}
	o, reader := newOrchestrator(t, opts, Deps{
		Precise:    &fakePrecise{block: true},
		Generative: gen,
		Preparer:   &fakePreparer{prepared: whole()},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGenerative, res.SourceBackend)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "precise backend timeout")
	assert.Equal(t, int64(1), counter(t, reader, "riffcore.backend.failures", "reason", "timeout"))
}

func TestMalformedGenerativeOutputFallsThrough(t *testing.T) {
	gen := &fakeGenerative{respond: func(generative.Request) (string, error) { return "I'm sorry, I can't hear any music.", nil }}
	o, reader := newOrchestrator(t, Options{Order: []State{StateTryGenerative}}, Deps{
		Generative: gen,
		Preparer:   &fakePreparer{prepared: whole()},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourceSynthetic, res.SourceBackend)
	assert.Equal(t, int64(1), counter(t, reader, "riffcore.backend.failures", "reason", "malformed"))
}

func TestGenerativeFirstOrder(t *testing.T) {
	p := &fakePrecise{stream: noteStream(64)}
	gen := &fakeGenerative{respond: func(generative.Request) (string, error) {
		return analysisJSON(120, "G major", wireNote{Instrument: "guitar", MidiNote: 67, StartTime: 0, EndTime: 1}), nil
	}}
	o, _ := newOrchestrator(t, Options{Order: []State{StateTryGenerative, StateTryPrecise}}, Deps{
		Precise:    p,
		Generative: gen,
		Preparer:   &fakePreparer{prepared: whole()},
	})

	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGenerative, res.SourceBackend)
	assert.Equal(t, int32(0), p.calls.Load())
	require.Len(t, gen.prompts, 1)
	assert.NotContains(t, gen.prompts[0], "ANALYZING SAMPLE")
}

func TestDisabledBackendsGoStraightToSynthesis(t *testing.T) {
	o, _ := newOrchestrator(t, Options{}, Deps{})
	res, err := o.Transcribe(context.Background(), songInfo.Path)
	require.NoError(t, err)
	assert.Equal(t, model.SourceSynthetic, res.SourceBackend)
	assert.Empty(t, res.Warnings)
}

func TestCancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, _ := newOrchestrator(t, defaultOptions(), Deps{Precise: &fakePrecise{stream: noteStream(64)}})
	_, err := o.Transcribe(ctx, songInfo.Path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlan(t *testing.T) {
	p := newPlan([]State{StateTryGenerative, StateTryPrecise})
	assert.Equal(t, StateTryGenerative, p.first())
	assert.Equal(t, StateTryPrecise, p.next(StateTryGenerative))
	assert.Equal(t, StateSynthesize, p.next(StateTryPrecise))
	assert.Equal(t, StateDone, p.next(StateSynthesize))
	assert.Equal(t, StateSynthesize, newPlan(nil).first())

	_, err := ParseOrder([]string{"precise", "precise"})
	assert.Error(t, err)
	_, err = ParseOrder([]string{"synthetic"})
	assert.Error(t, err)
	assert.Equal(t, "SYNTHESIZE_FALLBACK", StateSynthesize.String())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Classifier.GuitarTuning = "drop_d"
	cfg.Orchestrator.Order = []string{"generative"}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []State{StateTryGenerative}, opts.Order)
	assert.Equal(t, 38, opts.Classifier.Guitar.Strings[5])
	assert.Equal(t, []audio.Format{audio.FormatMP3, audio.FormatWAV}, opts.Constraints.AllowedFormats)
	assert.Equal(t, 5*time.Minute, opts.PreciseTimeout)

	cfg.Classifier.BassTuning = "baritone"
	_, err = OptionsFromConfig(cfg)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}
