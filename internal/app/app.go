// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/collab-monolith/common"
	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/shutdown"
	"github.com/YaganovValera/collab-monolith/common/telemetry"
	"github.com/YaganovValera/collab-monolith/internal/broker"
	"github.com/YaganovValera/collab-monolith/internal/collab"
	"github.com/YaganovValera/collab-monolith/internal/config"
	"github.com/YaganovValera/collab-monolith/internal/gateway"
	"github.com/YaganovValera/collab-monolith/internal/persistence"
)

// Run поднимает broker → persistence → collab → gateway, работает до
// отмены ctx и останавливает их в обратном порядке.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	common.InitServiceName(cfg.ServiceName)

	// -------------------------------------------------------------------------
	// 1) OpenTelemetry
	// -------------------------------------------------------------------------
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		_ = shutdown.GracefulShutdown("telemetry", cfg.ShutdownTimeout, shutdownTracer, log)
	}()

	// -------------------------------------------------------------------------
	// 2) Broker
	// -------------------------------------------------------------------------
	b, err := broker.New(cfg.Broker, log)
	if err != nil {
		return fmt.Errorf("broker init: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("broker start: %w", err)
	}
	if err := b.RegisterSchema(cfg.Collab.Topic, collab.CommandSchema); err != nil {
		_ = b.Shutdown(context.Background())
		return fmt.Errorf("broker schema: %w", err)
	}

	// -------------------------------------------------------------------------
	// 3) Persistence
	// -------------------------------------------------------------------------
	store, err := persistence.New(ctx, cfg.Persistence, log)
	if err != nil {
		_ = b.Shutdown(context.Background())
		return fmt.Errorf("persistence init: %w", err)
	}

	// -------------------------------------------------------------------------
	// 4) Collab
	// -------------------------------------------------------------------------
	worker := collab.New(b, store.Documents(), cfg.Collab, log)

	// -------------------------------------------------------------------------
	// 5) Gateway
	// -------------------------------------------------------------------------
	gw, err := gateway.New(cfg.Gateway, b, store, b.Ready, log)
	if err != nil {
		_ = store.Shutdown(context.Background())
		_ = b.Shutdown(context.Background())
		return fmt.Errorf("gateway init: %w", err)
	}

	log.WithContext(ctx).Info("monolith: components initialized",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("storage_dir", cfg.Broker.StorageDir),
	)

	// -------------------------------------------------------------------------
	// 6) Concurrent loops
	// -------------------------------------------------------------------------
	g, gctx := errgroup.WithContext(ctx)
	worker.Start(gctx)

	g.Go(func() error { return gw.Run(gctx) })
	g.Go(func() error {
		if err := worker.Wait(); err != nil {
			return fmt.Errorf("collab: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("monolith: runtime error", zap.Error(runErr))
	}

	// -------------------------------------------------------------------------
	// 7) Graceful shutdown: gateway уже остановлен по gctx
	// -------------------------------------------------------------------------
	err = shutdown.Sequence(log,
		shutdown.Step{Name: "collab", Timeout: cfg.Collab.Timeout, Fn: worker.Shutdown},
		shutdown.Step{Name: "persistence", Timeout: cfg.ShutdownTimeout, Fn: store.Shutdown},
		shutdown.Step{Name: "broker", Timeout: cfg.Broker.DrainTimeout + cfg.ShutdownTimeout, Fn: b.Shutdown},
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return err
}
