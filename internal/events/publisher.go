// Package events publishes finished transcriptions to Kafka for consumers
// outside the NATS bus.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/riffscribe/riffcore/internal/config"
	"github.com/riffscribe/riffcore/internal/protocol"
)

const instrumentationName = "github.com/riffscribe/riffcore/internal/events"

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per finished request, keyed by request id.
// Without brokers it runs in log-only mode.
type Publisher struct {
	writer    writer
	topic     string
	node      string
	log       *slog.Logger
	published metric.Int64Counter
}

// New builds a publisher for cfg. node identifies this process in message
// headers.
func New(cfg config.EventsConfig, node string, log *slog.Logger) *Publisher {
	p := &Publisher{
		topic: cfg.Topic,
		node:  node,
		log:   log.With(slog.String("component", "events")),
	}
	counter, err := otel.GetMeterProvider().Meter(instrumentationName).Int64Counter("riffcore.events.published",
		metric.WithDescription("Transcription events handed to Kafka"))
	if err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	p.published = counter

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.log.Info("kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.log.Info("kafka publisher initialized",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic))
	return p
}

// Enabled reports whether messages actually leave the process.
func (p *Publisher) Enabled() bool { return p.writer != nil }

// Publish sends resp to the configured topic.
func (p *Publisher) Publish(ctx context.Context, resp protocol.TranscribeResponse) error {
	msg, err := p.message(resp)
	if err != nil {
		p.record(ctx, "encode_error")
		return err
	}
	if p.writer == nil {
		p.log.Debug("transcription event", slog.String("request_id", resp.RequestID), slog.String("status", resp.Status))
		p.record(ctx, "logged")
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to write to kafka",
			slog.String("topic", p.topic),
			slog.String("request_id", resp.RequestID),
			slog.String("error", err.Error()))
		p.record(ctx, "error")
		return err
	}
	p.record(ctx, "ok")
	return nil
}

func (p *Publisher) message(resp protocol.TranscribeResponse) (kafka.Message, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(resp.RequestID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(resp.Status)},
			{Key: "source_backend", Value: []byte(resp.SourceBackend)},
			{Key: "node", Value: []byte(p.node)},
		},
		Time: resp.Timestamp,
	}, nil
}

func (p *Publisher) record(ctx context.Context, outcome string) {
	if p.published == nil {
		return
	}
	p.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", p.topic),
		attribute.String("outcome", outcome),
	))
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
