// common/shutdown/shutdown_test.go
package shutdown_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/shutdown"
)

func TestSequence_RunsAllInOrder(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	step := func(name string, err error) shutdown.Step {
		return shutdown.Step{Name: name, Timeout: time.Second, Fn: func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}

	err := shutdown.Sequence(logger.NewNop(),
		step("gateway", nil),
		step("collab", boom),
		step("broker", nil),
	)
	if !errors.Is(err, boom) {
		t.Fatalf("Sequence() = %v; want %v", err, boom)
	}
	if len(order) != 3 || order[0] != "gateway" || order[2] != "broker" {
		t.Errorf("order = %v", order)
	}
}

func TestGracefulShutdown_Timeout(t *testing.T) {
	err := shutdown.GracefulShutdown("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, logger.NewNop())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v; want deadline exceeded", err)
	}
}
