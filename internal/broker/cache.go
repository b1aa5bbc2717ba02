// internal/broker/cache.go
package broker

import (
	"bytes"
	"sync"

	"github.com/YaganovValera/collab-monolith/internal/broker/wal"
)

// recordCache — кольцо последних N записей топика, чтобы горячие
// доставки не ходили в WAL.
type recordCache struct {
	mu   sync.RWMutex
	ring []wal.Command
}

func newRecordCache(size int) *recordCache {
	return &recordCache{ring: make([]wal.Command, size)}
}

func (c *recordCache) put(cmd wal.Command) {
	if len(c.ring) == 0 || cmd.Offset == 0 {
		return
	}
	c.mu.Lock()
	c.ring[cmd.Offset%uint64(len(c.ring))] = cmd
	c.mu.Unlock()
}

func (c *recordCache) get(off uint64) (wal.Command, bool) {
	if len(c.ring) == 0 || off == 0 {
		return wal.Command{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd := c.ring[off%uint64(len(c.ring))]
	if cmd.Offset != off {
		return wal.Command{}, false
	}
	// каждая доставка получает свою копию: группы не видят чужих правок
	cmd.Payload = bytes.Clone(cmd.Payload)
	return cmd, true
}
