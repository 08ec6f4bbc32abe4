// Package runtime assembles the long-running riffcore service: telemetry,
// the message bus, the run ledger, the orchestrator and the bus worker.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riffscribe/riffcore/internal/bus"
	"github.com/riffscribe/riffcore/internal/config"
	"github.com/riffscribe/riffcore/internal/events"
	"github.com/riffscribe/riffcore/internal/eventstore"
	"github.com/riffscribe/riffcore/internal/fleet"
	"github.com/riffscribe/riffcore/internal/natsserver"
	"github.com/riffscribe/riffcore/internal/worker"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type Runtime struct {
	cfg        config.Config
	version    string
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry
	embedded   *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *eventstore.Store
	worker     *worker.Service
	events     *events.Publisher
	fleet      *fleet.Registry
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start brings every component up, serves HTTP until ctx is cancelled and
// then shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		r.shutdownTelemetry()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("version", r.version))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.stopServices()
	r.shutdownTelemetry()
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if url := embedded.ClientURL(); url != "" {
		busCfg.Servers = []string{url}
	}
	busClient, err := bus.Connect(busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	r.bus = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	orch, err := BuildOrchestrator(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	self := fleet.Describe(r.cfg, r.version)
	r.events = events.New(r.cfg.Events, self.NodeID, r.logger)

	r.worker = worker.NewService(ctx, r.cfg.Worker, busClient, orch, store, r.logger, worker.WithResultSink(r.events))
	if err := r.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	if r.cfg.Fleet.Enabled {
		registry, err := fleet.NewRegistry(ctx, r.cfg.Fleet, self, busClient, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start fleet registry: %w", err)
		}
		r.fleet = registry
	}
	return nil
}

func (r *Runtime) stopServices() {
	if r.fleet != nil {
		r.fleet.Close()
	}
	if r.worker != nil {
		r.worker.Close()
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Error("events close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
}

func (r *Runtime) shutdownTelemetry() {
	if r.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetry.shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /runs", r.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", r.handleGetRun)
	mux.HandleFunc("GET /fleet", r.handleFleet)
	if r.telemetry != nil && r.telemetry.metrics != nil {
		mux.Handle("GET /metrics", r.telemetry.metrics)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) healthy() bool {
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	return r.worker == nil || r.worker.Healthy()
}

// runView is the HTTP shape of an eventstore.Run.
type runView struct {
	ID            string          `json:"id"`
	Path          string          `json:"path"`
	Status        string          `json:"status"`
	SourceBackend string          `json:"source_backend,omitempty"`
	Notes         int             `json:"notes"`
	Confidence    float64         `json:"confidence"`
	Warnings      []string        `json:"warnings,omitempty"`
	Error         string          `json:"error,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

func newRunView(run eventstore.Run, withResult bool) runView {
	v := runView{
		ID:            run.ID,
		Path:          run.Path,
		Status:        run.Status,
		SourceBackend: run.SourceBackend,
		Notes:         run.Notes,
		Confidence:    run.Confidence,
		Warnings:      run.Warnings,
		Error:         run.Error,
		TraceID:       run.TraceID,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
	if withResult && len(run.Result) > 0 {
		v.Result = json.RawMessage(run.Result)
	}
	return v
}

func (r *Runtime) handleListRuns(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run ledger unavailable"})
		return
	}
	limit := defaultRunsLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := r.store.ListRuns(req.Context(), limit)
	if err != nil {
		r.logger.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func (r *Runtime) handleGetRun(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run ledger unavailable"})
		return
	}
	run, err := r.store.GetRun(req.Context(), req.PathValue("id"))
	switch {
	case errors.Is(err, eventstore.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
	case err != nil:
		r.logger.Error("get run failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "get run failed"})
	default:
		writeJSON(w, http.StatusOK, newRunView(run, true))
	}
}

func (r *Runtime) handleFleet(w http.ResponseWriter, req *http.Request) {
	if r.fleet == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "fleet registry disabled"})
		return
	}
	var filter func(fleet.Node) bool
	switch backend := req.URL.Query().Get("backend"); {
	case backend != "":
		filter = fleet.WithBackend(backend)
	case req.URL.Query().Get("workers") == "true":
		filter = fleet.Workers
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"self":  r.fleet.Self().NodeID,
		"nodes": r.fleet.Nodes(filter),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
