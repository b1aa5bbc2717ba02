// internal/broker/errors.go
package broker

import (
	"errors"

	"github.com/YaganovValera/collab-monolith/internal/broker/wal"
)

// Ошибки брокера. Проверяются через errors.Is; конкретный вызов
// оборачивает их контекстом (топик, группа, offset).
var (
	ErrValidation         = errors.New("broker: validation failed")
	ErrBackpressure       = errors.New("broker: backpressure")
	ErrIO                 = errors.New("broker: io failure")
	ErrCorruptSegment     = wal.ErrCorruptSegment
	ErrUnknownTopic       = errors.New("broker: unknown topic")
	ErrUnknownGroup       = errors.New("broker: unknown group")
	ErrShuttingDown       = errors.New("broker: shutting down")
	ErrNotStarted         = errors.New("broker: not started")
	ErrSubscriptionClosed = errors.New("broker: subscription closed")
)
