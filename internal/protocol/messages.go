// Package protocol defines the messages exchanged over the bus.
package protocol

import (
	"encoding/json"
	"time"
)

// TranscribeRequest asks a worker to transcribe a recording it can read
// from its own filesystem.
type TranscribeRequest struct {
	RequestID string `json:"request_id,omitempty"`
	AudioPath string `json:"audio_path"`
	TraceID   string `json:"trace_id,omitempty"`
}

// TranscribeResponse reports the outcome of a TranscribeRequest. Result is
// the JSON-encoded transcription and is absent when Error is set.
type TranscribeResponse struct {
	RequestID     string          `json:"request_id"`
	AudioPath     string          `json:"audio_path"`
	Status        string          `json:"status"`
	SourceBackend string          `json:"source_backend,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	LatencyMS     int64           `json:"latency_ms"`
	Timestamp     time.Time       `json:"timestamp"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	ErrorKindUnsupportedAudio = "unsupported_audio"
	ErrorKindBadRequest       = "bad_request"
	ErrorKindInternal         = "internal"
)

const (
	SubjectTranscribeRequest = "riffcore.transcribe.request"
	SubjectTranscribeResult  = "riffcore.transcribe.result"
)
