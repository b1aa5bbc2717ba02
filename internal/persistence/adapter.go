// internal/persistence/adapter.go
package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/redis"
)

// Config — секция persistence.* конфига.
type Config struct {
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Redis       redis.Config   `mapstructure:"redis"`
	SnapshotTTL time.Duration  `mapstructure:"snapshot_ttl"`
}

// Adapter объединяет хранилища пользователей и документов.
// Пустой DSN/адрес включает in-memory вариант соответствующего хранилища.
type Adapter struct {
	users UserStorage
	docs  DocumentStorage
	log   *logger.Logger

	closers []func() error
}

// New подключает хранилища согласно cfg.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Adapter, error) {
	a := &Adapter{log: log.Named("persistence")}

	if cfg.Postgres.Enabled() {
		pg, err := NewPostgresUserStorage(ctx, cfg.Postgres, a.log)
		if err != nil {
			return nil, err
		}
		a.users = pg
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
	} else {
		a.users = NewMemoryUserStorage()
	}

	if cfg.Redis.Enabled() {
		rdb, err := redis.Connect(ctx, cfg.Redis, a.log)
		if err != nil {
			_ = a.Shutdown(ctx)
			return nil, fmt.Errorf("persistence: %w", err)
		}
		rs := NewRedisDocumentStorage(rdb, cfg.SnapshotTTL, a.log)
		a.docs = rs
		a.closers = append(a.closers, rs.Close)
	} else {
		a.docs = NewMemoryDocumentStorage()
	}

	a.log.Info("persistence ready",
		zap.Bool("postgres", cfg.Postgres.Enabled()),
		zap.Bool("redis", cfg.Redis.Enabled()),
	)
	return a, nil
}

// NewWith собирает адаптер из готовых хранилищ.
func NewWith(users UserStorage, docs DocumentStorage, log *logger.Logger) *Adapter {
	return &Adapter{users: users, docs: docs, log: log.Named("persistence")}
}

func (a *Adapter) Users() UserStorage         { return a.users }
func (a *Adapter) Documents() DocumentStorage { return a.docs }

func (a *Adapter) SaveUser(ctx context.Context, u NewUser) (User, error) {
	return a.users.SaveUser(ctx, u)
}

func (a *Adapter) LoadUserByID(ctx context.Context, id string) (User, error) {
	return a.users.LoadUserByID(ctx, id)
}

func (a *Adapter) SaveSnapshot(ctx context.Context, s Snapshot) error {
	return a.docs.SaveSnapshot(ctx, s)
}

func (a *Adapter) LoadSnapshot(ctx context.Context, documentID string) (Snapshot, error) {
	return a.docs.LoadSnapshot(ctx, documentID)
}

// Shutdown закрывает соединения в обратном порядке.
func (a *Adapter) Shutdown(ctx context.Context) error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if err != nil {
		a.log.WithContext(ctx).Error("persistence shutdown", zap.Error(err))
		return fmt.Errorf("persistence: shutdown: %w", err)
	}
	a.log.WithContext(ctx).Info("persistence closed")
	return nil
}
