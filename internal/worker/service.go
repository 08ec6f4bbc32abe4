// Package worker serves transcription requests arriving over the bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/riffscribe/riffcore/internal/bus"
	"github.com/riffscribe/riffcore/internal/config"
	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/eventstore"
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/protocol"
)

// Transcriber turns a recording into a Result.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (*model.Result, error)
}

// RunRecorder persists the outcome of each request.
type RunRecorder interface {
	RecordRun(ctx context.Context, run eventstore.Run) error
}

// ResultSink receives every finished response, in addition to the bus reply.
type ResultSink interface {
	Publish(ctx context.Context, resp protocol.TranscribeResponse) error
}

type Option func(*Service)

// WithResultSink forwards finished responses to sink.
func WithResultSink(sink ResultSink) Option {
	return func(s *Service) { s.sink = sink }
}

type Service struct {
	cfg         config.WorkerConfig
	bus         *bus.Client
	transcriber Transcriber
	runs        RunRecorder
	sink        ResultSink
	sub         *nats.Subscription
	sem         chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	ready       bool
	clock       func() time.Time
	logger      *slog.Logger
}

func NewService(parent context.Context, cfg config.WorkerConfig, busClient *bus.Client, transcriber Transcriber, runs RunRecorder, logger *slog.Logger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(parent)
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	s := &Service{
		cfg:         cfg,
		bus:         busClient,
		transcriber: transcriber,
		runs:        runs,
		sem:         make(chan struct{}, limit),
		ctx:         ctx,
		cancel:      cancel,
		clock:       time.Now,
		logger:      logger.With(slog.String("component", "transcribe-worker")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(s.cfg.Subject, s.cfg.QueueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe transcribe requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	s.logger.Info("worker listening",
		slog.String("subject", s.cfg.Subject),
		slog.String("queue", s.cfg.QueueGroup),
		slog.Int("max_concurrency", cap(s.sem)))
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode transcribe request", slogError(err))
		s.reply(msg, protocol.TranscribeResponse{
			Status:    protocol.StatusFailed,
			Error:     err.Error(),
			ErrorKind: protocol.ErrorKindBadRequest,
			Timestamp: s.clock().UTC(),
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.ctx.Done():
			return
		}
		resp := s.Process(s.ctx, req)
		s.reply(msg, resp)
	}()
}

// Process runs one request to completion, records it and returns the
// response to send back.
func (s *Service) Process(parent context.Context, req protocol.TranscribeRequest) protocol.TranscribeResponse {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	started := s.clock()
	resp := protocol.TranscribeResponse{
		RequestID: req.RequestID,
		AudioPath: req.AudioPath,
		TraceID:   req.TraceID,
	}
	run := eventstore.Run{
		ID:        req.RequestID,
		Path:      req.AudioPath,
		TraceID:   req.TraceID,
		StartedAt: started,
	}

	result, err := s.transcribe(parent, req)
	if err == nil {
		var payload []byte
		payload, err = json.Marshal(result)
		if err == nil {
			resp.Status = protocol.StatusCompleted
			resp.SourceBackend = string(result.SourceBackend)
			resp.Result = payload
			run.Status = eventstore.StatusCompleted
			run.SourceBackend = string(result.SourceBackend)
			run.Notes = len(result.Notes)
			run.Confidence = result.Confidence
			run.Warnings = result.Warnings
			run.Result = payload
		}
	}
	if err != nil {
		resp.Status = protocol.StatusFailed
		resp.Error = err.Error()
		resp.ErrorKind = errorKind(err)
		run.Status = eventstore.StatusFailed
		run.Error = err.Error()
	}

	finished := s.clock()
	resp.LatencyMS = finished.Sub(started).Milliseconds()
	resp.Timestamp = finished.UTC()
	run.FinishedAt = finished

	if s.runs != nil {
		// a cancelled request is still worth recording
		if err := s.runs.RecordRun(context.WithoutCancel(parent), run); err != nil {
			s.logger.Warn("failed to record run", slog.String("request_id", req.RequestID), slogError(err))
		}
	}
	if s.sink != nil {
		if err := s.sink.Publish(context.WithoutCancel(parent), resp); err != nil {
			s.logger.Warn("failed to publish result event", slog.String("request_id", req.RequestID), slogError(err))
		}
	}
	s.logger.Info("transcription request finished",
		slog.String("request_id", req.RequestID),
		slog.String("status", resp.Status),
		slog.String("source_backend", resp.SourceBackend),
		slog.Int64("latency_ms", resp.LatencyMS))
	return resp
}

func (s *Service) transcribe(parent context.Context, req protocol.TranscribeRequest) (*model.Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, errBadRequest
	}
	ctx := parent
	if s.cfg.RequestTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
		defer cancel()
	}
	return s.transcriber.Transcribe(ctx, req.AudioPath)
}

func (s *Service) reply(msg *nats.Msg, resp protocol.TranscribeResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode transcribe response", slogError(err))
		return
	}
	if msg.Reply != "" {
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to reply to transcribe request", slogError(err))
		}
	}
	if s.cfg.ResultSubject != "" {
		if err := s.bus.Conn().Publish(s.cfg.ResultSubject, data); err != nil {
			s.logger.Warn("failed to publish transcribe result", slogError(err))
		}
	}
}

var errBadRequest = errors.New("audio_path must not be empty")

func errorKind(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return protocol.ErrorKindBadRequest
	case apperrors.IsUnsupportedAudio(err):
		return protocol.ErrorKindUnsupportedAudio
	default:
		return protocol.ErrorKindInternal
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
