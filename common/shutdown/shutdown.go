// common/shutdown/shutdown.go
package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

// Step — один шаг остановки.
type Step struct {
	Name    string
	Timeout time.Duration
	Fn      func(ctx context.Context) error
}

// GracefulShutdown выполняет shutdown-функцию с таймаутом.
// Таймаут отсчитывается от context.Background(): родительский ctx
// к этому моменту обычно уже отменён.
func GracefulShutdown(name string, timeout time.Duration, fn func(ctx context.Context) error, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutdown: stopping " + name)
	if err := fn(ctx); err != nil {
		log.Error("shutdown: error in "+name, zap.Error(err))
		return err
	}
	log.Info("shutdown: " + name + " stopped cleanly")
	return nil
}

// Sequence выполняет шаги строго по порядку; ошибка шага не прерывает
// остальные. Возвращает первую ошибку.
func Sequence(log *logger.Logger, steps ...Step) error {
	var first error
	for _, s := range steps {
		if err := GracefulShutdown(s.Name, s.Timeout, s.Fn, log); err != nil && first == nil {
			first = err
		}
	}
	return first
}
