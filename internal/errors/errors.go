package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptedFile     = errors.New("file corrupted or unreadable")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrToolNotInstalled  = errors.New("required tool not installed")
	ErrNoUsableNotes     = errors.New("backend returned no usable notes")
)

// UnsupportedAudioError is returned when a recording cannot be decoded at all.
// It is the only audio failure surfaced to callers.
type UnsupportedAudioError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *UnsupportedAudioError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unsupported audio %q: %s: %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("unsupported audio %q: %s", e.Path, e.Reason)
}

func (e *UnsupportedAudioError) Unwrap() error {
	return e.Cause
}

// BackendUnavailableError reports a backend that is not configured, not
// installed, or could not be reached.
type BackendUnavailableError struct {
	Backend string
	Reason  string
	Cause   error
}

func (e *BackendUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s backend unavailable: %s: %v", e.Backend, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s backend unavailable: %s", e.Backend, e.Reason)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Cause
}

// MalformedBackendOutputError reports backend output that could not be parsed.
type MalformedBackendOutputError struct {
	Backend string
	Snippet string
	Cause   error
}

func (e *MalformedBackendOutputError) Error() string {
	return fmt.Sprintf("%s backend returned malformed output (%q): %v", e.Backend, e.Snippet, e.Cause)
}

func (e *MalformedBackendOutputError) Unwrap() error {
	return e.Cause
}

// ProcessError represents a failure in an external process
type ProcessError struct {
	Tool     string // "ffmpeg", "ffprobe", "basic-pitch"
	Stage    string // "transcode", "inspect", "transcription", "analysis"
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed at %s (exit %d): %s", e.Tool, e.Stage, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed at %s (exit %d)", e.Tool, e.Stage, e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// NewProcessError creates a ProcessError
func NewProcessError(tool, stage string, exitCode int, stderr string, cause error) *ProcessError {
	return &ProcessError{
		Tool:     tool,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}

// Unavailable creates a BackendUnavailableError
func Unavailable(backend, reason string, cause error) *BackendUnavailableError {
	return &BackendUnavailableError{Backend: backend, Reason: reason, Cause: cause}
}

// Unsupported creates an UnsupportedAudioError
func Unsupported(path, reason string, cause error) *UnsupportedAudioError {
	return &UnsupportedAudioError{Path: path, Reason: reason, Cause: cause}
}

// IsUnsupportedAudio reports whether err carries an UnsupportedAudioError.
func IsUnsupportedAudio(err error) bool {
	var target *UnsupportedAudioError
	return errors.As(err, &target)
}

// IsBackendUnavailable reports whether err carries a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var target *BackendUnavailableError
	return errors.As(err, &target)
}

// IsMalformedOutput reports whether err carries a MalformedBackendOutputError.
func IsMalformedOutput(err error) bool {
	var target *MalformedBackendOutputError
	return errors.As(err, &target)
}
