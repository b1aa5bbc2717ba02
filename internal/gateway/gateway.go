// internal/gateway/gateway.go
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/YaganovValera/collab-monolith/common/httpserver"
	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/internal/persistence"
)

// Config — секция gateway.* конфига.
type Config struct {
	httpserver.Config `mapstructure:",squash"`

	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	RetryAfter     time.Duration `mapstructure:"retry_after"`
	WSReadTimeout  time.Duration `mapstructure:"ws_read_timeout"`
	WSWriteTimeout time.Duration `mapstructure:"ws_write_timeout"`
}

func (c *Config) ApplyDefaults() {
	c.Config.ApplyDefaults()
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = time.Second
	}
	if c.WSReadTimeout <= 0 {
		c.WSReadTimeout = 60 * time.Second
	}
	if c.WSWriteTimeout <= 0 {
		c.WSWriteTimeout = 10 * time.Second
	}
}

// Gateway — HTTP/WebSocket вход в монолит поверх common/httpserver.
type Gateway struct {
	srv *httpserver.Server
	log *logger.Logger
}

// New собирает Gateway. ready — проверка для /readyz.
func New(cfg Config, b Publisher, store *persistence.Adapter, ready httpserver.ReadyChecker, log *logger.Logger) (*Gateway, error) {
	cfg.ApplyDefaults()
	h := NewHandler(b, store.Users(), store.Documents(), cfg, log)

	srv, err := httpserver.New(cfg.Config, ready, log,
		map[string]http.Handler{"/": h.Routes()},
		httpserver.RecoverMiddleware(log),
		httpserver.CORSMiddleware(cfg.AllowedOrigins),
	)
	if err != nil {
		return nil, err
	}
	srv.OnShutdown(h.CloseConnections)
	return &Gateway{srv: srv, log: log.Named("gateway")}, nil
}

// Handler — корневой обработчик, для тестов.
func (g *Gateway) Handler() http.Handler { return g.srv.Handler() }

// Run обслуживает запросы до отмены ctx, затем делает graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	return g.srv.Run(ctx)
}
