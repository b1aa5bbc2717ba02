// common/redis/client.go
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YaganovValera/collab-monolith/common/backoff"
	"github.com/YaganovValera/collab-monolith/common/logger"
)

// Config описывает подключение к Redis.
type Config struct {
	Addr     string         `mapstructure:"addr"`
	Password string         `mapstructure:"password"`
	DB       int            `mapstructure:"db"`
	Backoff  backoff.Config `mapstructure:"backoff"`
}

// Enabled — false, если адрес не задан (используется in-memory вариант).
func (c Config) Enabled() bool { return c.Addr != "" }

// Connect создаёт клиент и ждёт ответа на PING с экспоненциальным back-off.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*goredis.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("redis: addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := backoff.Execute(ctx, "redis_ping", cfg.Backoff, log.Named("redis"), func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
