// internal/persistence/memory.go
package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryUserStorage — UserStorage в памяти процесса (без postgres.dsn).
type MemoryUserStorage struct {
	mu      sync.RWMutex
	byID    map[string]User
	byLogin map[string]string
}

func NewMemoryUserStorage() *MemoryUserStorage {
	return &MemoryUserStorage{
		byID:    make(map[string]User),
		byLogin: make(map[string]string),
	}
}

func (m *MemoryUserStorage) SaveUser(ctx context.Context, nu NewUser) (User, error) {
	u, err := prepareUser(nu)
	if err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byLogin[u.Username]; exists {
		return User{}, fmt.Errorf("%w: username %q already exists", ErrValidation, u.Username)
	}
	u.ID = uuid.NewString()
	m.byID[u.ID] = u
	m.byLogin[u.Username] = u.ID
	return u, nil
}

func (m *MemoryUserStorage) LoadUserByID(ctx context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

// MemoryDocumentStorage — DocumentStorage в памяти процесса (без redis.addr).
type MemoryDocumentStorage struct {
	mu   sync.RWMutex
	docs map[string]Snapshot
}

func NewMemoryDocumentStorage() *MemoryDocumentStorage {
	return &MemoryDocumentStorage{docs: make(map[string]Snapshot)}
}

func (m *MemoryDocumentStorage) SaveSnapshot(ctx context.Context, s Snapshot) error {
	if err := validateSnapshot(s); err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[s.DocumentID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryDocumentStorage) LoadSnapshot(ctx context.Context, documentID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.docs[documentID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return s, nil
}
