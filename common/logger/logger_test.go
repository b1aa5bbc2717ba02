// common/logger/logger_test.go
package logger_test

import (
	"context"
	"testing"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "invalid", DevMode: false})
	if err == nil {
		t.Error("expected error for invalid level, got nil")
	}
}

func TestNew_ValidLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error", ""}
	for _, lvl := range levels {
		_, err := logger.New(logger.Config{Level: lvl, DevMode: true})
		if err != nil {
			t.Errorf("expected no error for level %q, got %v", lvl, err)
		}
	}
}

func TestWithContext_Fields(t *testing.T) {
	raw := logger.NewNop()
	ctx := context.Background()
	if raw.WithContext(ctx) != raw {
		t.Error("expected the same logger when context carries no ids")
	}

	ctx = logger.ContextWithTraceID(ctx, "trace-123")
	ctx = logger.ContextWithRequestID(ctx, "req-456")
	ctx = logger.ContextWithProducerID(ctx, "gateway-1")
	enh := raw.WithContext(ctx)
	if enh == raw {
		t.Error("expected a derived logger when context carries ids")
	}
	enh.Info("test message")

	if got := logger.RequestIDFromContext(ctx); got != "req-456" {
		t.Errorf("RequestIDFromContext = %q; want req-456", got)
	}
}

func TestSync_NoPanic(t *testing.T) {
	l, _ := logger.New(logger.Config{Level: "info", DevMode: true})
	l.Sync()
	logger.NewNop().Named("x").Sync()
}
