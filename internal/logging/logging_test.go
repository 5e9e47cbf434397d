package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/example/malaria-detect/internal/mlerr"
)

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorUnwrapsKind(t *testing.T) {
	err := NewOperationError("preprocess.normalize", "req-1", mlerr.ErrDecode)
	if !errors.Is(err, mlerr.ErrDecode) {
		t.Fatalf("expected errors.Is to find ErrDecode in %v", err)
	}
	if got := err.Error(); got != "preprocess.normalize: decode error" {
		t.Fatalf("unexpected message: %q", got)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.RequestID != "req-1" {
		t.Fatalf("expected OperationError with request id, got %#v", err)
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
