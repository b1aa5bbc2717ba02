// common/httpserver/server.go
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/prometheus"
)

// ReadyChecker returns nil if the service is ready to serve.
type ReadyChecker func() error

// Server — HTTP-сервер с /metrics, /healthz, /readyz и прикладными маршрутами.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// New собирает Server. extraRoutes монтируются в общий mux
// (шаблон "/" перехватывает всё, что не совпало с сервисными путями),
// middlewares применяются в порядке передачи.
func New(cfg Config, check ReadyChecker, log *logger.Logger, extraRoutes map[string]http.Handler, middlewares ...Middleware) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if check == nil {
		check = func() error { return nil }
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, prometheus.Handler())
	mux.HandleFunc(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc(cfg.ReadyzPath, func(w http.ResponseWriter, _ *http.Request) {
		if err := check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "NOT READY: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})
	for pattern, h := range extraRoutes {
		mux.Handle(pattern, h)
	}

	var handler http.Handler = mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log.Named("http-server"),
	}, nil
}

// Handler возвращает корневой обработчик (для тестов через httptest).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// OnShutdown регистрирует f, вызываемую в начале graceful shutdown.
// Нужна для hijacked-соединений (WebSocket), которые Shutdown не ждёт.
func (s *Server) OnShutdown(f func()) { s.httpServer.RegisterOnShutdown(f) }

// Run слушает порт и делает graceful shutdown по ctx.Done().
// Отмена ctx не считается ошибкой.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("http: starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpserver: listen: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("http: shutdown signal received")
	case err := <-errCh:
		serveErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http: graceful shutdown failed", zap.Error(err))
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}
	s.log.Info("http: server stopped gracefully")
	return serveErr
}
