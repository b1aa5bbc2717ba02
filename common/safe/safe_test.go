// common/safe/safe_test.go
package safe_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/safe"
)

func TestGroup_PanicBecomesError(t *testing.T) {
	g := safe.New(context.Background(), logger.NewNop())
	g.Go("sleeper", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Go("bomb", func(context.Context) error { panic("kaboom") })

	err := g.Wait()
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Wait() = %v; want panic error", err)
	}
}

func TestGroup_FirstErrorWins(t *testing.T) {
	want := errors.New("first")
	g := safe.New(context.Background(), logger.NewNop())
	g.Go("a", func(context.Context) error { return want })

	if err := g.Wait(); !errors.Is(err, want) {
		t.Fatalf("Wait() = %v; want %v", err, want)
	}
	if g.Context().Err() == nil {
		t.Error("group context must be cancelled after Wait")
	}
}

func TestGroup_NoError(t *testing.T) {
	g := safe.New(context.Background(), logger.NewNop())
	g.Go("ok", func(context.Context) error { return nil })
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait() = %v; want nil", err)
	}
}
