// internal/broker/wal/memory.go
package wal

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// MemoryStore — лог в памяти с тем же контрактом, что и FileStore.
// Ничего не переживает рестарт процесса.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []Command
	recovered bool
	closed    bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Recover() (Recovery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recovered {
		return Recovery{}, fmt.Errorf("wal: recover called twice")
	}
	if m.closed {
		return Recovery{}, ErrClosed
	}
	m.recovered = true
	return Recovery{Segments: 1}, nil
}

func (m *MemoryStore) Append(cmd Command) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return 0, ErrClosed
	case !m.recovered:
		return 0, ErrNotRecovered
	}
	if _, err := encodeRecord(cmd); err != nil {
		return 0, err
	}

	cmd.Offset = uint64(len(m.records)) + 1
	if cmd.ProducedAt.IsZero() {
		cmd.ProducedAt = time.Now()
	}
	cmd.Payload = bytes.Clone(cmd.Payload)
	m.records = append(m.records, cmd)
	return cmd.Offset, nil
}

func (m *MemoryStore) Read(off uint64) (Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.closed:
		return Command{}, ErrClosed
	case !m.recovered:
		return Command{}, ErrNotRecovered
	case off == 0 || off > uint64(len(m.records)):
		return Command{}, fmt.Errorf("%w: %d", ErrNotFound, off)
	}
	cmd := m.records[off-1]
	cmd.Payload = bytes.Clone(cmd.Payload)
	return cmd, nil
}

func (m *MemoryStore) Sync() error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
