package runctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != noopLogger {
		t.Fatalf("expected noop logger")
	}
	//nolint:staticcheck // nil context is tolerated
	if Logger(nil) != noopLogger {
		t.Fatalf("expected noop logger for nil context")
	}
}

func TestWithLoggerRoundTrip(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceAndRunInfo(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "def", ProjectID: "proj"})
	ctx = WithRun(ctx, RunInfo{RunID: "run-1", DatabaseID: "RentalDB"})

	if got := TraceID(ctx); got != "abc" {
		t.Fatalf("expected trace id abc, got %q", got)
	}
	run, ok := Run(ctx)
	if !ok || run.RunID != "run-1" || run.DatabaseID != "RentalDB" {
		t.Fatalf("unexpected run info %+v (%v)", run, ok)
	}
	if _, ok := Run(context.Background()); ok {
		t.Fatalf("expected no run info on empty context")
	}
}
