// internal/persistence/redis.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

const snapshotKeyPrefix = "collab:doc:"

// RedisDocumentStorage хранит снапшоты документов как JSON-строки.
type RedisDocumentStorage struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewRedisDocumentStorage оборачивает подключённый клиент. ttl=0 — без истечения.
func NewRedisDocumentStorage(rdb *goredis.Client, ttl time.Duration, log *logger.Logger) *RedisDocumentStorage {
	return &RedisDocumentStorage{rdb: rdb, ttl: ttl, log: log.Named("redis")}
}

func snapshotKey(id string) string { return snapshotKeyPrefix + id }

func (s *RedisDocumentStorage) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	ctx, span := tracer.Start(ctx, "Redis.SaveSnapshot", trace.WithAttributes(
		attribute.String("document.id", snap.DocumentID),
		attribute.Int64("document.version", int64(snap.Version)),
	))
	defer span.End()

	if err := validateSnapshot(snap); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", ErrPersistence, err)
	}

	start := time.Now()
	err = s.rdb.Set(ctx, snapshotKey(snap.DocumentID), data, s.ttl).Err()
	observe("redis", "save_snapshot", start, err)
	if err != nil {
		span.RecordError(err)
		s.log.WithContext(ctx).Error("save snapshot failed", zap.String("document", snap.DocumentID), zap.Error(err))
		return fmt.Errorf("%w: save snapshot %s: %v", ErrPersistence, snap.DocumentID, err)
	}
	return nil
}

func (s *RedisDocumentStorage) LoadSnapshot(ctx context.Context, documentID string) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Redis.LoadSnapshot", trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()

	start := time.Now()
	data, err := s.rdb.Get(ctx, snapshotKey(documentID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		observe("redis", "load_snapshot", start, nil)
		return Snapshot{}, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	observe("redis", "load_snapshot", start, err)
	if err != nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("%w: load snapshot %s: %v", ErrPersistence, documentID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode snapshot %s: %v", ErrPersistence, documentID, err)
	}
	return snap, nil
}

// Close закрывает клиент.
func (s *RedisDocumentStorage) Close() error {
	return s.rdb.Close()
}
