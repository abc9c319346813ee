package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/car-rental/populate/internal/platform/runctx"
)

var tracer = otel.Tracer("github.com/car-rental/populate/internal/platform/observability")

// Step tracks one unit of work of a run: a span plus a logger carrying the step and trace fields.
type Step struct {
	name   string
	span   trace.Span
	logger *zap.Logger
	start  time.Time
	now    func() time.Time
}

// StartStep opens a span named after the step, records trace metadata on the context and scopes
// the context logger to the step. Callers must call End.
func StartStep(ctx context.Context, projectID, name string, attrs ...attribute.KeyValue) (context.Context, *Step) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))

	spanCtx := span.SpanContext()
	info := runctx.TraceInfo{
		TraceID:   spanCtx.TraceID().String(),
		SpanID:    spanCtx.SpanID().String(),
		Sampled:   spanCtx.IsSampled(),
		ProjectID: projectID,
	}
	ctx = runctx.WithTrace(ctx, info)

	logger := runctx.Logger(ctx).With(zap.String("step", name))
	if spanCtx.IsValid() {
		logger = logger.With(zap.String("trace_id", info.TraceID))
		if resource := loggingTraceResource(info); resource != "" {
			logger = logger.With(zap.String("logging.googleapis.com/trace", resource))
		}
	}
	ctx = runctx.WithLogger(ctx, logger)

	step := &Step{name: name, span: span, logger: logger, now: time.Now}
	step.start = step.now()
	logger.Info("step started")
	return ctx, step
}

// Logger returns the step-scoped logger.
func (s *Step) Logger() *zap.Logger {
	if s == nil || s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// SetAttributes annotates the step span.
func (s *Step) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// End closes the span, marking it failed when err is non-nil, and logs the step outcome.
func (s *Step) End(err error) {
	if s == nil {
		return
	}
	elapsed := s.now().Sub(s.start)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.Logger().Error("step failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		s.span.SetStatus(codes.Ok, "")
		s.Logger().Info("step completed", zap.Duration("elapsed", elapsed))
	}
	s.span.End()
}

func loggingTraceResource(info runctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)
}
