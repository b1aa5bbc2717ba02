// internal/broker/topic.go
package broker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/internal/broker/offsets"
	"github.com/YaganovValera/collab-monolith/internal/broker/wal"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// validateName проверяет имя топика или группы: оно же имя каталога/файла.
func validateName(kind, name string) error {
	if !nameRe.MatchString(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: invalid %s name %q", ErrValidation, kind, name)
	}
	return nil
}

// topic — лог, очередь, курсоры групп и кэш одного топика.
//
// Любое изменение head, floor, резерва или статуса деградации закрывает
// канал changed и заменяет его новым: все ожидающие (продьюсеры
// в backpressure, подписки в Next) просыпаются и перепроверяют условие.
type topic struct {
	name   string
	store  wal.Store
	groups *offsets.Manager
	cache  *recordCache
	log    *logger.Logger

	queueSize    int
	degradeAfter int

	mu       sync.Mutex
	queue    offsetQueue
	reserved int
	changed  chan struct{}
	schema   *gojsonschema.Schema
	failures int
	degraded bool
}

func newTopic(name string, store wal.Store, groups *offsets.Manager, cfg Config, log *logger.Logger) *topic {
	return &topic{
		name:         name,
		store:        store,
		groups:       groups,
		cache:        newRecordCache(cfg.CacheSize),
		log:          log.With(zap.String("topic", name)),
		queueSize:    cfg.QueueSize,
		degradeAfter: cfg.DegradeAfter,
		changed:      make(chan struct{}),
	}
}

// open восстанавливает лог и курсоры групп.
func (t *topic) open() (wal.Recovery, error) {
	rec, err := t.store.Recover()
	if err != nil {
		return rec, fmt.Errorf("topic %s: recover: %w", t.name, err)
	}
	if err := t.groups.Load(rec.Last); err != nil {
		return rec, fmt.Errorf("%w: topic %s: load offsets: %w", ErrIO, t.name, err)
	}

	t.mu.Lock()
	t.queue = offsetQueue{head: rec.Last}
	t.refloorLocked()
	t.mu.Unlock()
	return rec, nil
}

// broadcastLocked будит всех ожидающих. Вызывается под t.mu.
func (t *topic) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// refloorLocked пересчитывает floor очереди по самой медленной группе.
// Без групп backlog'а нет.
func (t *topic) refloorLocked() {
	if low, ok := t.groups.MinCommitted(); ok {
		t.queue.trim(low)
	} else {
		t.queue.trim(t.queue.head)
	}
	backlogGauge.WithLabelValues(t.name).Set(float64(t.queue.len()))
}

func (t *topic) head() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.head
}

// watch возвращает head и канал для ожидания следующего изменения.
func (t *topic) watch() (uint64, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.head, t.changed
}

// -----------------------------------------------------------------------------
// Backpressure
// -----------------------------------------------------------------------------

// reserve занимает одно место в очереди, ожидая, пока самая медленная
// группа не освободит ёмкость.
func (t *topic) reserve(ctx context.Context, draining <-chan struct{}, timeout time.Duration) error {
	var (
		timer   *time.Timer
		started time.Time
	)
	for {
		t.mu.Lock()
		if t.degraded {
			t.mu.Unlock()
			return fmt.Errorf("%w: topic %s is degraded", ErrIO, t.name)
		}
		if t.queue.len()+t.reserved < t.queueSize {
			t.reserved++
			t.mu.Unlock()
			if timer != nil {
				backpressureWait.WithLabelValues(t.name).Observe(time.Since(started).Seconds())
			}
			return nil
		}
		ch := t.changed
		t.mu.Unlock()

		if timer == nil {
			started = time.Now()
			timer = time.NewTimer(timeout)
			defer timer.Stop()
			t.log.WithContext(ctx).Debug("publish blocked on backpressure")
		}
		select {
		case <-ch:
		case <-draining:
			return fmt.Errorf("%w: topic %s", ErrShuttingDown, t.name)
		case <-ctx.Done():
			return fmt.Errorf("topic %s: waiting for capacity: %w", t.name, ctx.Err())
		case <-timer.C:
			return fmt.Errorf("%w: topic %s: queue full (%d) for %s", ErrBackpressure, t.name, t.queueSize, timeout)
		}
	}
}

// release возвращает резерв после неудачной записи.
func (t *topic) release() {
	t.mu.Lock()
	t.reserved--
	t.broadcastLocked()
	t.mu.Unlock()
}

// appended переводит резерв в опубликованный offset.
func (t *topic) appended(cmd wal.Command) {
	t.cache.put(cmd)

	t.mu.Lock()
	t.reserved--
	t.failures = 0
	t.queue.enqueue(cmd.Offset)
	t.refloorLocked()
	t.broadcastLocked()
	t.mu.Unlock()
}

// appendFailed считает подряд идущие ошибки записи и деградирует топик.
func (t *topic) appendFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	if t.failures >= t.degradeAfter && !t.degraded {
		t.degraded = true
		degradedGauge.WithLabelValues(t.name).Set(1)
		t.log.Error("topic degraded after repeated append failures",
			zap.Int("failures", t.failures),
			zap.Error(err),
		)
		t.broadcastLocked()
	}
}

// -----------------------------------------------------------------------------
// Read path
// -----------------------------------------------------------------------------

func (t *topic) read(off uint64) (wal.Command, error) {
	if cmd, ok := t.cache.get(off); ok {
		cacheLookups.WithLabelValues(t.name, "hit").Inc()
		return cmd, nil
	}
	cacheLookups.WithLabelValues(t.name, "miss").Inc()
	cmd, err := t.store.Read(off)
	if err != nil {
		return wal.Command{}, fmt.Errorf("%w: topic %s: read offset %d: %w", ErrIO, t.name, off, err)
	}
	return cmd, nil
}

// -----------------------------------------------------------------------------
// Groups
// -----------------------------------------------------------------------------

func (t *topic) commit(group string, off uint64) error {
	changed, err := t.groups.Commit(group, off)
	if err != nil {
		return t.groupErr(group, err)
	}
	if changed {
		t.mu.Lock()
		t.refloorLocked()
		t.broadcastLocked()
		t.mu.Unlock()
	}
	return nil
}

func (t *topic) attach(group string, fromLatest bool) (uint64, error) {
	committed, err := t.groups.Attach(group, fromLatest, t.head())
	if err != nil {
		return 0, t.groupErr(group, err)
	}
	t.mu.Lock()
	t.refloorLocked()
	t.broadcastLocked()
	t.mu.Unlock()
	return committed, nil
}

func (t *topic) removeGroup(group string) error {
	if err := t.groups.Remove(group); err != nil {
		return t.groupErr(group, err)
	}
	t.mu.Lock()
	t.refloorLocked()
	t.broadcastLocked()
	t.mu.Unlock()
	return nil
}

func (t *topic) groupErr(group string, err error) error {
	switch {
	case errors.Is(err, offsets.ErrUnknownGroup):
		return fmt.Errorf("%w: topic %s, group %s", ErrUnknownGroup, t.name, group)
	case errors.Is(err, offsets.ErrAlreadyAttached):
		return fmt.Errorf("%w: group %s already has an open subscription on topic %s", ErrValidation, group, t.name)
	default:
		return fmt.Errorf("%w: topic %s, group %s: %w", ErrIO, t.name, group, err)
	}
}

// -----------------------------------------------------------------------------
// Stats
// -----------------------------------------------------------------------------

// TopicStats — снимок состояния топика.
type TopicStats struct {
	Name     string               `json:"name"`
	Head     uint64               `json:"head"`
	Backlog  int                  `json:"backlog"`
	Degraded bool                 `json:"degraded"`
	Groups   []offsets.GroupState `json:"groups"`
}

func (t *topic) stats() TopicStats {
	t.mu.Lock()
	st := TopicStats{
		Name:     t.name,
		Head:     t.queue.head,
		Backlog:  t.queue.len(),
		Degraded: t.degraded,
	}
	t.mu.Unlock()
	st.Groups = t.groups.Groups()
	return st
}

func (t *topic) setSchema(s *gojsonschema.Schema) {
	t.mu.Lock()
	t.schema = s
	t.mu.Unlock()
}

func (t *topic) currentSchema() *gojsonschema.Schema {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schema
}
