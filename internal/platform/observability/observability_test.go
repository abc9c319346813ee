package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/car-rental/populate/internal/platform/runctx"
)

func TestStartStepLogsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	ctx = WithRun(ctx, runctx.RunInfo{RunID: "run-1", DatabaseID: "RentalDB"})

	stepCtx, step := StartStep(ctx, "rental-dev", "seed-cars")
	FromContext(stepCtx).Info("inside")
	step.End(nil)

	_, failing := StartStep(ctx, "rental-dev", "drop-database")
	failing.End(errors.New("boom"))

	entries := logs.All()
	if len(entries) != 5 {
		t.Fatalf("expected 5 log entries, got %d", len(entries))
	}
	inside := entries[1]
	if inside.Message != "inside" {
		t.Fatalf("unexpected message %q", inside.Message)
	}
	fields := inside.ContextMap()
	if fields["step"] != "seed-cars" || fields["run_id"] != "run-1" {
		t.Fatalf("expected step and run fields, got %v", fields)
	}
	if entries[2].Message != "step completed" {
		t.Fatalf("expected completion log, got %q", entries[2].Message)
	}
	last := entries[4]
	if last.Message != "step failed" || last.Level != zapcore.ErrorLevel {
		t.Fatalf("expected failure log, got %q at %s", last.Message, last.Level)
	}
}

func TestLoggingTraceResource(t *testing.T) {
	if got := loggingTraceResource(runctx.TraceInfo{ProjectID: "p", TraceID: "t"}); got != "projects/p/traces/t" {
		t.Fatalf("unexpected resource %q", got)
	}
	if got := loggingTraceResource(runctx.TraceInfo{TraceID: "t"}); got != "" {
		t.Fatalf("expected empty resource without project, got %q", got)
	}
}

func TestMaskDNI(t *testing.T) {
	if got := MaskDNI("12345678A"); got != "******78A" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskDNI("1A"); got != "***" {
		t.Fatalf("unexpected short mask %q", got)
	}
}

func TestSanitizeIdentifierDropsControlCharacters(t *testing.T) {
	if got := SanitizeIdentifier("Rental\nDB\x00"); got != "RentalDB" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
}
