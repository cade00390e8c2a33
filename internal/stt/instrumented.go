package stt

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-dictate/internal/stt"

type instrumented struct {
	next     Engine
	tracer   trace.Tracer
	latency  metric.Float64Histogram
	failures metric.Int64Counter
}

// Instrument wraps engine with a span per request plus latency and failure
// metrics, using the global OpenTelemetry providers.
func Instrument(engine Engine) Engine {
	meter := otel.Meter(instrumentationName)
	latency, _ := meter.Float64Histogram("dictation.decode.latency_ms",
		metric.WithDescription("Engine decode latency"),
		metric.WithUnit("ms"),
	)
	failures, _ := meter.Int64Counter("dictation.decode.failures",
		metric.WithDescription("Engine requests that returned an error"),
	)
	return &instrumented{
		next:     engine,
		tracer:   otel.Tracer(instrumentationName),
		latency:  latency,
		failures: failures,
	}
}

func (i *instrumented) Load(ctx context.Context) error {
	if loader, ok := i.next.(Loader); ok {
		return loader.Load(ctx)
	}
	return nil
}

func (i *instrumented) Transcribe(ctx context.Context, samples []float32, mode Mode) (Snapshot, error) {
	attrs := []attribute.KeyValue{attribute.String("mode", mode.String())}
	ctx, span := i.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		append(attrs, attribute.Int("samples", len(samples)))...,
	))
	defer span.End()

	start := time.Now()
	snap, err := i.next.Transcribe(ctx, samples, mode)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if i.latency != nil {
		i.latency.Record(ctx, elapsed, metric.WithAttributes(attrs...))
	}
	if err != nil {
		if i.failures != nil {
			i.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return snap, err
	}
	span.SetAttributes(attribute.Int("text.length", len(snap.Text)))
	return snap, nil
}

func (i *instrumented) Close() error {
	return Close(i.next)
}
