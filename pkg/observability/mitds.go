package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for MITDS telemetry.
var (
	AttrSource   = attribute.Key("mitds.source")
	AttrAction   = attribute.Key("mitds.action")
	AttrRunID    = attribute.Key("mitds.run.id")
	AttrDetector = attribute.Key("mitds.detector")

	AttrEntityID   = attribute.Key("mitds.entity.id")
	AttrEntityType = attribute.Key("mitds.entity.type")
	AttrEdgeType   = attribute.Key("mitds.edge.type")
	AttrDomain     = attribute.Key("mitds.domain")
)

// RunAttrs builds the attribute set for one ingestion run.
func RunAttrs(source, runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSource.String(source),
		AttrRunID.String(runID),
	}
}

// DetectorAttrs builds the attribute set for one detector pass.
func DetectorAttrs(detector string, entityCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDetector.String(detector),
		attribute.Int("mitds.detect.entities", entityCount),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanError records err on the current span when non-nil.
func SetSpanError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
