// internal/broker/wal/store.go
package wal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrCorruptSegment — повреждение, которое нельзя списать на оборванный
	// хвост: битая запись в запечатанном сегменте, битая запись с данными
	// после неё, разрыв нумерации offset'ов.
	ErrCorruptSegment = errors.New("wal: corrupt segment")

	// ErrNoValidSegment — каталог топика нечитаем либо ни одно имя
	// сегмента в нём не распознано.
	ErrNoValidSegment = errors.New("wal: no valid segment")

	// ErrNotFound — запрошенного offset'а нет в логе.
	ErrNotFound = errors.New("wal: offset not found")

	// ErrClosed — операция над закрытым хранилищем.
	ErrClosed = errors.New("wal: store closed")

	// ErrNotRecovered — Append/Read до Recover.
	ErrNotRecovered = errors.New("wal: store not recovered")

	// ErrRecordTooLarge — запись не помещается в кадр.
	ErrRecordTooLarge = errors.New("wal: record too large")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Command — запись лога. Offset назначает хранилище при Append.
type Command struct {
	Offset     uint64
	ID         string
	ProducerID string
	Topic      string
	ProducedAt time.Time
	Payload    []byte
}

// Recovery — результат сканирования лога при старте.
// First/Last равны 0, если лог пуст.
type Recovery struct {
	First          uint64
	Last           uint64
	Segments       int
	TruncatedBytes int64  // сколько байт отрезано с хвоста последнего сегмента
	TruncatedAt    string // имя сегмента, который был укорочен
}

// Store — append-only лог одного топика.
//
// Recover вызывается ровно один раз до первого Append/Read.
// Append возвращает управление только после того, как запись стала durable.
type Store interface {
	Append(cmd Command) (uint64, error)
	Read(offset uint64) (Command, error)
	Recover() (Recovery, error)
	Sync() error
	Close() error
}

// -----------------------------------------------------------------------------
// Sync policy
// -----------------------------------------------------------------------------

// SyncMode задаёт политику fsync.
type SyncMode string

const (
	// SyncAlways — fsync под write-локом на каждую запись.
	SyncAlways SyncMode = "always"
	// SyncBatch — group commit: писатели разделяют один fsync вне лока.
	SyncBatch SyncMode = "batch"
)

// ParseSyncMode разбирает строку конфига.
func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SyncBatch, nil
	case SyncAlways, SyncBatch:
		return m, nil
	default:
		return "", fmt.Errorf("wal: unknown sync mode %q", s)
	}
}
