// common/backoff/backoff_test.go
package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/collab-monolith/common/backoff"
	"github.com/YaganovValera/collab-monolith/common/logger"
)

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	cfg := backoff.Config{MaxElapsedTime: time.Second}
	called := 0
	err := backoff.Execute(context.Background(), "test", cfg, logger.NewNop(), func(ctx context.Context) error {
		called++
		return nil
	})
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected 1 attempt, got %d", called)
	}
}

func TestExecute_EventualSuccess(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 5 * time.Millisecond, Multiplier: 1, MaxElapsedTime: time.Second}
	attemptsBeforeSuccess := 3
	called := 0
	err := backoff.Execute(context.Background(), "test", cfg, logger.NewNop(), func(ctx context.Context) error {
		called++
		if called < attemptsBeforeSuccess {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if called != attemptsBeforeSuccess {
		t.Errorf("expected %d attempts, got %d", attemptsBeforeSuccess, called)
	}
}

func TestExecute_MaxRetriesExceeded(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, Multiplier: 1, MaxElapsedTime: 50 * time.Millisecond}
	called := 0
	err := backoff.Execute(context.Background(), "test", cfg, logger.NewNop(), func(ctx context.Context) error {
		called++
		return errors.New("always fail")
	})
	var maxErr *backoff.ErrMaxRetries
	if !errors.As(err, &maxErr) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if maxErr.Attempts != called {
		t.Errorf("attempts mismatch: ErrMaxRetries.Attempts=%d, actual=%d", maxErr.Attempts, called)
	}
}

func TestExecute_PermanentStopsImmediately(t *testing.T) {
	cfg := backoff.Config{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}
	sentinel := errors.New("bad input")
	called := 0
	err := backoff.Execute(context.Background(), "test", cfg, logger.NewNop(), func(ctx context.Context) error {
		called++
		return backoff.Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected 1 attempt, got %d", called)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := backoff.Config{InitialInterval: time.Millisecond}
	err := backoff.Execute(ctx, "test", cfg, logger.NewNop(), func(ctx context.Context) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var maxErr *backoff.ErrMaxRetries
	if errors.As(err, &maxErr) {
		t.Error("cancellation must not be reported as ErrMaxRetries")
	}
}
