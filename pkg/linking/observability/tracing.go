package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

const (
	// TracerName is the name of the tracer for linking operations.
	TracerName = "penf-linker"
)

// Span attribute keys
const (
	AttrRepository = "repository"
	AttrDocumentID = "document_id"
	AttrTaskID     = "task_id"
	AttrTaskKind   = "task_kind"
	AttrStage      = "stage"
	AttrGroups     = "groups"
	AttrLinked     = "linked"
	AttrCreated    = "created"
	AttrSkipped    = "skipped"
	AttrFailed     = "failed"
	AttrErrorCode  = "error_code"
	AttrRetryable  = "retryable"
)

// Span names
const (
	SpanTask    = "linking.task"
	SpanAnalyze = "linking.analyze"
)

// Tracer provides distributed tracing for linking operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartTaskSpan starts the root span of a queued or synchronous task.
func (t *Tracer) StartTaskSpan(ctx context.Context, kind, taskID string, key model.DocumentKey) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, SpanTask,
		trace.WithAttributes(
			attribute.String(AttrTaskKind, kind),
			attribute.String(AttrRepository, key.Repository),
			attribute.String(AttrDocumentID, key.DocumentID),
		),
	)
	if taskID != "" {
		span.SetAttributes(attribute.String(AttrTaskID, taskID))
	}
	return ctx, span
}

// StartAnalyzeSpan starts a span for stateless text analysis.
func (t *Tracer) StartAnalyzeSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAnalyze)
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage pferrors.Stage) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("linking.stage.%s", stage),
		trace.WithAttributes(attribute.String(AttrStage, string(stage))),
	)
}

// SpanHelper provides convenient methods for working with a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper wraps span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetGroups records how many occurrence groups the analysis produced.
func (h *SpanHelper) SetGroups(n int) {
	h.span.SetAttributes(attribute.Int(AttrGroups, n))
}

// SetLinkCounts records the linking summary.
func (h *SpanHelper) SetLinkCounts(linked, created, skipped, failed int) {
	h.span.SetAttributes(
		attribute.Int(AttrLinked, linked),
		attribute.Int(AttrCreated, created),
		attribute.Int(AttrSkipped, skipped),
		attribute.Int(AttrFailed, failed),
	)
}

// SetError records err with its classified code.
func (h *SpanHelper) SetError(err error) {
	code := pferrors.CodeOf(err)
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, string(code)),
		attribute.Bool(AttrRetryable, pferrors.IsRetryable(code)),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// End records err, if any, and ends the span.
func (h *SpanHelper) End(err error) {
	if err != nil {
		h.SetError(err)
	} else {
		h.SetSuccess()
	}
	h.span.End()
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
