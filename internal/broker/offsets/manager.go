// internal/broker/offsets/manager.go
package offsets

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrAlreadyAttached — у группы уже есть открытая подписка.
	ErrAlreadyAttached = errors.New("offsets: group already attached")
	// ErrUnknownGroup — группа не известна топику.
	ErrUnknownGroup = errors.New("offsets: unknown group")
)

type cursor struct {
	committed uint64
	attached  bool
}

// GroupState — снимок курсора группы.
type GroupState struct {
	Group     string `json:"group"`
	Committed uint64 `json:"committed"`
	Attached  bool   `json:"attached"`
}

// Manager держит курсоры групп одного топика в памяти поверх Store.
// Commit'ы сериализуются отдельным мьютексом, чтобы fsync не блокировал
// чтения курсоров.
type Manager struct {
	store Store

	commitMu sync.Mutex

	mu     sync.Mutex
	groups map[string]*cursor
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, groups: make(map[string]*cursor)}
}

// Load поднимает сохранённые offset'ы; значения больше head обрезаются
// до head и перезаписываются.
func (m *Manager) Load(head uint64) error {
	groups, err := m.store.Groups()
	if err != nil {
		return err
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	for _, g := range groups {
		off, ok, err := m.store.Load(g)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if off > head {
			off = head
			if err := m.store.Commit(g, off); err != nil {
				return err
			}
		}
		m.mu.Lock()
		m.groups[g] = &cursor{committed: off}
		m.mu.Unlock()
	}
	return nil
}

// Attach открывает курсор группы. Новая группа стартует с 0 или, при
// fromLatest, с head; начальная позиция сохраняется сразу. Возвращает
// закоммиченный offset.
func (m *Manager) Attach(group string, fromLatest bool, head uint64) (uint64, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	c, ok := m.groups[group]
	if ok && c.attached {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrAlreadyAttached, group)
	}
	if ok {
		c.attached = true
		committed := c.committed
		m.mu.Unlock()
		return committed, nil
	}
	m.mu.Unlock()

	var start uint64
	if fromLatest {
		start = head
	}
	if err := m.store.Commit(group, start); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.groups[group] = &cursor{committed: start, attached: true}
	m.mu.Unlock()
	return start, nil
}

// Detach снимает отметку подписки; курсор остаётся известным.
func (m *Manager) Detach(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.groups[group]; ok {
		c.attached = false
	}
}

// Commit монотонно сдвигает курсор и сохраняет его до возврата.
// changed=false, если offset не больше уже закоммиченного.
func (m *Manager) Commit(group string, offset uint64) (changed bool, err error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	c, ok := m.groups[group]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if offset <= c.committed {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	if err := m.store.Commit(group, offset); err != nil {
		return false, err
	}

	m.mu.Lock()
	c.committed = offset
	m.mu.Unlock()
	return true, nil
}

// Cursor возвращает закоммиченный offset группы.
func (m *Manager) Cursor(group string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.groups[group]
	if !ok {
		return 0, false
	}
	return c.committed, true
}

// MinCommitted — минимум по всем известным группам; ok=false без групп.
func (m *Manager) MinCommitted() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		lowest uint64
		found  bool
	)
	for _, c := range m.groups {
		if !found || c.committed < lowest {
			lowest, found = c.committed, true
		}
	}
	return lowest, found
}

// Remove забывает группу и удаляет её offset. Группа с открытой
// подпиской не удаляется.
func (m *Manager) Remove(group string) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	c, ok := m.groups[group]
	switch {
	case !ok:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	case c.attached:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, group)
	}
	m.mu.Unlock()

	if err := m.store.Delete(group); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.groups, group)
	m.mu.Unlock()
	return nil
}

// Groups — снимок всех курсоров, отсортированный по имени.
func (m *Manager) Groups() []GroupState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GroupState, 0, len(m.groups))
	for g, c := range m.groups {
		out = append(out, GroupState{Group: g, Committed: c.committed, Attached: c.attached})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}
