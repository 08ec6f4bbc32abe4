package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/riffscribe/riffcore/internal/model"
)

type instruments struct {
	transcriptions metric.Int64Counter
	failures       metric.Int64Counter
	duration       metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	transcriptions, err := meter.Int64Counter("riffcore.transcriptions",
		metric.WithDescription("Completed transcriptions by producing backend"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("riffcore.backend.failures",
		metric.WithDescription("Backend attempts that did not yield notes"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("riffcore.backend.duration",
		metric.WithDescription("Backend attempt latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &instruments{transcriptions: transcriptions, failures: failures, duration: duration}, nil
}

func (m *instruments) recordAttempt(ctx context.Context, backend string, elapsed time.Duration, f *failure) {
	outcome := "ok"
	if f != nil {
		outcome = f.reason
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("reason", f.reason),
		))
	}
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}

func (m *instruments) recordResult(ctx context.Context, source model.SourceBackend) {
	m.transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("source_backend", string(source))))
}
