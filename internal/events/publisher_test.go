package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riffscribe/riffcore/internal/config"
	"github.com/riffscribe/riffcore/internal/protocol"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func response() protocol.TranscribeResponse {
	return protocol.TranscribeResponse{
		RequestID:     "req-7",
		AudioPath:     "/takes/solo.wav",
		Status:        protocol.StatusCompleted,
		SourceBackend: "generative",
		Result:        json.RawMessage(`{"notes":[]}`),
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDisabledWithoutBrokers(t *testing.T) {
	p := New(config.EventsConfig{Enabled: true, Topic: "riffcore.transcriptions"}, "node-a", quiet())
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Publish(context.Background(), response()))
	assert.NoError(t, p.Close())
}

func TestEnabledWithBrokers(t *testing.T) {
	p := New(config.EventsConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t", WriteTimeoutMS: 1000}, "node-a", quiet())
	assert.True(t, p.Enabled())
	assert.NoError(t, p.Close())
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := New(config.EventsConfig{Topic: "riffcore.transcriptions"}, "node-a", quiet())
	p.writer = w

	require.NoError(t, p.Publish(context.Background(), response()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "req-7", string(msg.Key))
	assert.Equal(t, response().Timestamp, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"status": "completed", "source_backend": "generative", "node": "node-a"}, headers)

	var decoded protocol.TranscribeResponse
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "/takes/solo.wav", decoded.AudioPath)
	assert.JSONEq(t, `{"notes":[]}`, string(decoded.Result))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishReturnsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := New(config.EventsConfig{Topic: "t"}, "node-a", quiet())
	p.writer = &fakeWriter{err: boom}
	assert.ErrorIs(t, p.Publish(context.Background(), response()), boom)
}
