package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorMessageAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("kserve.infer", "req-1", base)

	if got, want := err.Error(), "kserve.infer (request_id=req-1): boom"; got != want {
		t.Fatalf("unexpected message: %q, want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}

	noID := NewOperationError("startup", "", base)
	if got, want := noID.Error(), "startup: boom"; got != want {
		t.Fatalf("unexpected message: %q, want %q", got, want)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WithOperation(zap.New(core), "usecase.handle_infer", "req-9")
	logger.Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "usecase.handle_infer" {
		t.Fatalf("unexpected operation field: %v", fields["operation"])
	}
	if fields["request_id"] != "req-9" {
		t.Fatalf("unexpected request_id field: %v", fields["request_id"])
	}
}

func TestOperationOf(t *testing.T) {
	err := NewOperationError(OpInfer, "req", errors.New("down"))
	wrapped := errors.Join(errors.New("context"), err)
	if got := OperationOf(wrapped); got != OpInfer {
		t.Fatalf("expected %s, got %q", OpInfer, got)
	}
	if got := OperationOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty operation, got %q", got)
	}
}
