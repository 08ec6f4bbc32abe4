package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.opentelemetry.io/otel"

	"github.com/riffscribe/riffcore/internal/config"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/eventstore"
	"github.com/riffscribe/riffcore/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTone(t *testing.T, path string, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	const rate = 8000
	data := make([]int, int(seconds*rate))
	for i := range data {
		data[i] = (i % 80) * 200
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func mockConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Precise.Mode = "mock"
	cfg.Generative.Mode = "mock"
	cfg.Audio.FFmpegCommand = ""
	cfg.Audio.FFprobeCommand = ""
	cfg.Audio.TempDir = t.TempDir()
	return cfg
}

func TestBuildOrchestratorMockBackends(t *testing.T) {
	cfg := mockConfig(t)
	orch, err := BuildOrchestrator(cfg, quietLogger())
	if err != nil {
		t.Fatalf("build orchestrator: %v", err)
	}

	path := filepath.Join(t.TempDir(), "riff.wav")
	writeTone(t, path, 2)

	res, err := orch.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.SourceBackend != model.SourcePrecise {
		t.Fatalf("expected precise result, got %s", res.SourceBackend)
	}
	if len(res.Notes) != 10 {
		t.Fatalf("expected 10 notes from the mock riff, got %d", len(res.Notes))
	}
}

func TestBuildOrchestratorFallsBackToGenerative(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Precise.Enabled = false

	orch, err := BuildOrchestrator(cfg, quietLogger())
	if err != nil {
		t.Fatalf("build orchestrator: %v", err)
	}
	path := filepath.Join(t.TempDir(), "riff.wav")
	writeTone(t, path, 2)

	res, err := orch.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.SourceBackend != model.SourceGenerative {
		t.Fatalf("expected generative result, got %s", res.SourceBackend)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for the disabled precise backend")
	}
}

func TestBuildOrchestratorInvalidFormat(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Audio.AllowedFormats = []string{"mp3", "tape"}
	_, err := BuildOrchestrator(cfg, quietLogger())
	if !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestReadyz(t *testing.T) {
	rt := New(config.Default(), "test", quietLogger())
	srv := httptest.NewServer(rt.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", resp.StatusCode)
	}

	rt.ready.Store(true)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", resp.StatusCode)
	}
}

func TestRunsEndpoints(t *testing.T) {
	ctx := context.Background()
	store, err := eventstore.Open(ctx, config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "runs.db"),
		RetentionMode: "persistent",
		RetentionDays: 30,
		MaxRuns:       100,
	}, quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	finished := time.Now().UTC().Truncate(time.Second)
	if err := store.RecordRun(ctx, eventstore.Run{
		ID:            "run-1",
		Path:          "/music/riff.wav",
		Status:        eventstore.StatusCompleted,
		SourceBackend: "precise",
		Notes:         10,
		Confidence:    0.8,
		Result:        []byte(`{"notes":[]}`),
		StartedAt:     finished.Add(-time.Second),
		FinishedAt:    finished,
	}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	rt := New(config.Default(), "test", quietLogger())
	rt.store = store
	srv := httptest.NewServer(rt.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	var list struct {
		Runs []runView `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(list.Runs) != 1 || list.Runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs %+v", list.Runs)
	}
	if list.Runs[0].Result != nil {
		t.Fatal("list view should omit the result body")
	}

	resp, err = http.Get(srv.URL + "/runs/run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	var view runView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	resp.Body.Close()
	if view.Notes != 10 || string(view.Result) != `{"notes":[]}` {
		t.Fatalf("unexpected run %+v", view)
	}

	for path, want := range map[string]int{
		"/runs/missing":   http.StatusNotFound,
		"/runs?limit=abc": http.StatusBadRequest,
		"/runs?limit=0":   http.StatusBadRequest,
		"/fleet":          http.StatusServiceUnavailable,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestSetupTelemetryServesMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	tel, err := setupTelemetry(ctx, cfg, "test", quietLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	defer tel.shutdown(ctx)

	counter, err := otel.GetMeterProvider().Meter("runtime-test").Int64Counter("riffcore.test.events")
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}
	counter.Add(ctx, 3)

	rec := httptest.NewRecorder()
	tel.metrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "riffcore_test_events") {
		t.Fatalf("expected exported counter in metrics output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go runtime collector in metrics output")
	}
}
