// ABOUTME: Core telemetry abstraction over OpenTelemetry used to instrument term queries
// ABOUTME: Provides metric recording, tracing, and lifecycle management with a no-op implementation

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry records metrics and spans without callers depending directly on
// OpenTelemetry.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown flushes and stops all providers.
	Shutdown(ctx context.Context) error
}

// NoopTelemetry discards everything.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// StartSpan returns the original context and its current span.
func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// OrNoop returns tel, or a no-op instance when tel is nil.
func OrNoop(tel Telemetry) Telemetry {
	if tel == nil {
		return NewNoop()
	}
	return tel
}

// RecordDuration records the seconds elapsed since start in a histogram.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, time.Since(start).Seconds(), attrs...)
}

// Attribute keys shared by all components
const (
	AttrOperationType = "operation.type"
	AttrComponent     = "component"
	AttrStatus        = "status"
	AttrErrorType     = "error.type"
	AttrIndex         = "index"
	AttrDirection     = "direction"
	AttrFieldCount    = "fields.count"
	AttrResolveStatus = "resolve.status"
)

// Attribute values
const (
	OpTypeNext     = "next"
	OpTypePrevious = "previous"
	OpTypeResolve  = "resolve"
	OpTypeOpen     = "open"

	StatusSuccess  = "success"
	StatusError    = "error"
	StatusTimeout  = "timeout"
	StatusDegraded = "degraded"

	ComponentQuery    = "query"
	ComponentResolver = "resolver"
	ComponentRegistry = "registry"
	ComponentHTTP     = "http"
	ComponentGRPC     = "grpc"
)

// Metric names
const (
	MetricQueryDuration      = "prevterm.query.duration"
	MetricQueryTotal         = "prevterm.query.total"
	MetricQueryTerms         = "prevterm.query.terms"
	MetricResolverProbes     = "prevterm.resolver.probes"
	MetricResolverBudget     = "prevterm.resolver.budget_exceeded"
	MetricRegistryOpenTime   = "prevterm.registry.open.duration"
	MetricRegistryOpenErrors = "prevterm.registry.open.errors"
)
