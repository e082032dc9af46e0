package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zene/zenesync/observability"

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for a database statement against a table
func StartDBSpan(ctx context.Context, system, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds reconciliation metrics
type SyncMetrics struct {
	passes       metric.Int64Counter
	passDuration metric.Float64Histogram
	replayed     metric.Int64Counter
	failed       metric.Int64Counter
	deadLettered metric.Int64Counter
	queueDepth   metric.Int64Gauge
}

// NewSyncMetrics creates sync metrics instruments on the global meter provider
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	passes, err := meter.Int64Counter(
		"zenesync.sync.passes",
		metric.WithDescription("Total number of reconciliation passes"),
		metric.WithUnit("{passes}"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"zenesync.sync.duration",
		metric.WithDescription("Reconciliation pass duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	replayed, err := meter.Int64Counter(
		"zenesync.sync.replayed",
		metric.WithDescription("Pending operations confirmed by the remote"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter(
		"zenesync.sync.failed",
		metric.WithDescription("Pending operation replays that failed"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	deadLettered, err := meter.Int64Counter(
		"zenesync.sync.dead_lettered",
		metric.WithDescription("Pending operations moved to the dead-letter list"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge(
		"zenesync.queue.depth",
		metric.WithDescription("Pending operations after a pass"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		passes:       passes,
		passDuration: passDuration,
		replayed:     replayed,
		failed:       failed,
		deadLettered: deadLettered,
		queueDepth:   queueDepth,
	}, nil
}

// RecordPass records one reconciliation pass
func (m *SyncMetrics) RecordPass(ctx context.Context, duration time.Duration, online bool, pending int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("online", online))
	m.passes.Add(ctx, 1, attrs)
	m.passDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.queueDepth.Record(ctx, int64(pending))
}

// RecordReplay records the outcome of one operation replay
func (m *SyncMetrics) RecordReplay(ctx context.Context, table, operation string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("sync.table", table),
		attribute.String("sync.operation", operation),
	)
	if err != nil {
		m.failed.Add(ctx, 1, attrs)
		return
	}
	m.replayed.Add(ctx, 1, attrs)
}

// RecordDeadLetter records an operation given up on
func (m *SyncMetrics) RecordDeadLetter(ctx context.Context, table, operation string) {
	if m == nil {
		return
	}
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sync.table", table),
		attribute.String("sync.operation", operation),
	))
}
