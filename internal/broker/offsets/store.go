// internal/broker/offsets/store.go
package offsets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const tmpSuffix = ".tmp"

// Store — постоянное хранилище закоммиченных offset'ов групп одного топика.
type Store interface {
	// Load возвращает ok=false, если у группы нет сохранённого offset'а.
	Load(group string) (offset uint64, ok bool, err error)
	// Commit durable-но сохраняет offset группы.
	Commit(group string, offset uint64) error
	Delete(group string) error
	Groups() ([]string, error)
}

// -----------------------------------------------------------------------------
// File variant
// -----------------------------------------------------------------------------

// FileStore хранит по файлу на группу: <dir>/<group> с десятичным offset'ом.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) *FileStore { return &FileStore{dir: dir} }

func (s *FileStore) path(group string) (string, error) {
	if group == "" || filepath.Base(group) != group || strings.HasSuffix(group, tmpSuffix) {
		return "", fmt.Errorf("offsets: bad group name %q", group)
	}
	return filepath.Join(s.dir, group), nil
}

func (s *FileStore) Load(group string) (uint64, bool, error) {
	p, err := s.path(group)
	if err != nil {
		return 0, false, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("offsets: read %s: %w", group, err)
	}
	off, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("offsets: parse %s: %w", group, err)
	}
	return off, true, nil
}

// Commit: запись во временный файл → fsync → rename → fsync каталога.
func (s *FileStore) Commit(group string, offset uint64) error {
	p, err := s.path(group)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("offsets: mkdir: %w", err)
	}

	tmp := p + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("offsets: create temp: %w", err)
	}
	if _, err := f.WriteString(strconv.FormatUint(offset, 10)); err != nil {
		_ = f.Close()
		return fmt.Errorf("offsets: write %s: %w", group, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("offsets: fsync %s: %w", group, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("offsets: close %s: %w", group, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("offsets: rename %s: %w", group, err)
	}
	return syncDir(s.dir)
}

func (s *FileStore) Delete(group string) error {
	p, err := s.path(group)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("offsets: delete %s: %w", group, err)
	}
	return syncDir(s.dir)
}

func (s *FileStore) Groups() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offsets: list: %w", err)
	}
	var groups []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		groups = append(groups, e.Name())
	}
	sort.Strings(groups)
	return groups, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("offsets: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("offsets: sync dir: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Memory variant
// -----------------------------------------------------------------------------

type MemoryStore struct {
	mu      sync.Mutex
	offsets map[string]uint64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offsets: make(map[string]uint64)}
}

func (m *MemoryStore) Load(group string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, ok := m.offsets[group]
	return off, ok, nil
}

func (m *MemoryStore) Commit(group string, offset uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[group] = offset
	return nil
}

func (m *MemoryStore) Delete(group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offsets, group)
	return nil
}

func (m *MemoryStore) Groups() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := make([]string, 0, len(m.offsets))
	for g := range m.offsets {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}
