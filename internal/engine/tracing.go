package engine

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracing exports one root span per run, a child span per iteration, and a
// grandchild per tool call (hook invocations get no span), written as newline-delimited JSON
// to the run's engine.log. There is no collector endpoint; stdouttrace
// writing straight to the log file is the whole export path.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracing builds a Tracing instance writing to w.
func NewTracing(w io.Writer) (*Tracing, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return &Tracing{
		provider: tp,
		tracer:   tp.Tracer("github.com/deltaengine/delta/internal/engine"),
	}, nil
}

// Shutdown flushes any buffered spans and releases the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func (t *Tracing) startRun(ctx context.Context, runID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "run", trace.WithAttributes(attribute.String("run_id", runID)))
}

func (t *Tracing) startIteration(ctx context.Context, n int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "iteration", trace.WithAttributes(attribute.Int("iteration", n)))
}

func (t *Tracing) startChild(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
