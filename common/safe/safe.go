// common/safe/safe.go
package safe

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

// Group — аналог errgroup.Group с защитой от panic.
// Паника в goroutine превращается в ошибку и отменяет контекст группы.
type Group struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
	log    *logger.Logger

	errOnce sync.Once
	err     error
}

// New создает группу с контекстом и логгером.
func New(ctx context.Context, log *logger.Logger) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("safe"),
	}
}

// Go запускает защищённую goroutine.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.recoverPanic(name)
		if err := fn(g.ctx); err != nil {
			g.log.Error("goroutine error", zap.String("goroutine", name), zap.Error(err))
			g.fail(err)
		}
	}()
}

// Wait блокирует до завершения всех goroutine и возвращает первую ошибку.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

// Context возвращает связанный контекст.
func (g *Group) Context() context.Context {
	return g.ctx
}

func (g *Group) fail(err error) {
	g.errOnce.Do(func() { g.err = err })
	g.cancel()
}

// recoverPanic ловит панику и логирует её.
func (g *Group) recoverPanic(name string) {
	if r := recover(); r != nil {
		g.log.Error("panic recovered", zap.String("goroutine", name), zap.Any("error", r))
		g.fail(fmt.Errorf("safe: %s: panic: %v", name, r))
	}
}
