package generative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/riffscribe/riffcore/internal/errors"
)

const (
	DefaultModel    = "gpt-4o-audio-preview"
	DefaultEndpoint = "https://api.openai.com"
)

// OpenAIConfig configures the chat-completions client.
type OpenAIConfig struct {
	Endpoint          string
	APIKey            string
	Model             string
	Temperature       float64
	Retries           int
	RequestsPerMinute int // zero disables rate limiting
	Timeout           time.Duration
}

// OpenAIClient sends clips to an OpenAI-compatible chat-completions API as
// input_audio content parts.
type OpenAIClient struct {
	cfg         OpenAIConfig
	client      *http.Client
	limiter     *rate.Limiter
	backoffBase time.Duration
	log         *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig, log *slog.Logger) *OpenAIClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &OpenAIClient{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(limit, 1),
		backoffBase: time.Second,
		log:         log.With(slog.String("component", "generative-openai")),
	}
}

func (c *OpenAIClient) Name() string { return Name }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends one clip and returns the model's message content. Rate
// limits, server errors and network failures are retried with exponential
// backoff.
func (c *OpenAIClient) Analyze(ctx context.Context, req Request) (string, error) {
	if c.cfg.APIKey == "" {
		return "", apperrors.Unavailable(Name, "api key not configured", nil)
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "input_audio", InputAudio: &inputAudio{Data: req.AudioBase64, Format: req.Format}},
			},
		}},
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log.Warn("retrying generative request",
				slog.Int("attempt", attempt),
				slog.Int64("backoff_ms", backoff.Milliseconds()),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		content, err := c.do(ctx, body)
		if err == nil {
			return content, nil
		}
		if !isRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("generative request: all %d retries exhausted: %w", c.cfg.Retries, lastErr)
}

func (c *OpenAIClient) do(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("read response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &retryableError{err: fmt.Errorf("http %d: %s", resp.StatusCode, truncate(payload, 200))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperrors.Unavailable(Name, fmt.Sprintf("http %d", resp.StatusCode), errors.New(truncate(payload, 200)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, truncate(payload, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", &apperrors.MalformedBackendOutputError{Backend: Name, Snippet: truncate(payload, 120), Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &apperrors.MalformedBackendOutputError{Backend: Name, Snippet: truncate(payload, 120), Cause: errors.New("no choices in response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// backoff is base * 2^(attempt-1) plus up to 25% jitter.
func (c *OpenAIClient) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
