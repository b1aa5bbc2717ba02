// internal/broker/broker.go
package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/telemetry"
	"github.com/YaganovValera/collab-monolith/internal/broker/offsets"
	"github.com/YaganovValera/collab-monolith/internal/broker/wal"
)

var tracer = telemetry.Tracer("collab-monolith/broker")

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State — фаза жизненного цикла брокера.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// StoreFactory открывает хранилища топика. Ничего не восстанавливает:
// Recover/Load вызывает брокер.
type StoreFactory func(topic string) (wal.Store, offsets.Store, error)

// Option настраивает Broker.
type Option func(*Broker)

// WithStoreFactory подменяет выбор хранилищ по cfg.Backend.
func WithStoreFactory(f StoreFactory) Option {
	return func(b *Broker) { b.factory = f }
}

// PublishOption настраивает Publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	producerID string
}

// WithProducerID помечает запись идентификатором продьюсера.
func WithProducerID(id string) PublishOption {
	return func(o *publishOptions) { o.producerID = id }
}

// Receipt — подтверждение durable-записи.
type Receipt struct {
	Offset uint64 `json:"offset"`
	ID     string `json:"id"`
}

// -----------------------------------------------------------------------------
// Broker
// -----------------------------------------------------------------------------

// Broker — in-process durable pub/sub: лог на топик, курсоры групп,
// backpressure по самой медленной группе.
type Broker struct {
	cfg      Config
	log      *logger.Logger
	factory  StoreFactory
	syncMode wal.SyncMode

	mu       sync.Mutex
	state    State
	starting bool // Start уже идёт: восстановление выполняется без b.mu
	topics   map[string]*topic
	schemas  map[string]*gojsonschema.Schema
	subs     map[*Subscription]struct{}
	changed  chan struct{} // ack / закрытие подписки
	inflight sync.WaitGroup

	draining chan struct{}
	stopped  chan struct{}
}

// New проверяет конфиг и собирает брокер без обращения к диску.
func New(cfg Config, log *logger.Logger, opts ...Option) (*Broker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, _ := wal.ParseSyncMode(cfg.SyncMode)

	b := &Broker{
		cfg:      cfg,
		log:      log.Named("broker"),
		syncMode: mode,
		state:    StateStarting,
		topics:   make(map[string]*topic),
		schemas:  make(map[string]*gojsonschema.Schema),
		subs:     make(map[*Subscription]struct{}),
		changed:  make(chan struct{}),
		draining: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.factory == nil {
		b.factory = b.defaultFactory
	}
	return b, nil
}

func (b *Broker) defaultFactory(name string) (wal.Store, offsets.Store, error) {
	if b.cfg.Backend == BackendMemory {
		return wal.NewMemoryStore(), offsets.NewMemoryStore(), nil
	}
	dir := filepath.Join(b.cfg.StorageDir, name)
	store := wal.NewFileStore(dir, wal.FileOptions{
		SegmentMaxBytes: b.cfg.SegmentMaxBytes,
		SyncMode:        b.syncMode,
	}, b.log)
	return store, offsets.NewFileStore(filepath.Join(dir, "offsets")), nil
}

// State возвращает текущую фазу.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ready — nil, если брокер принимает публикации (для /readyz).
func (b *Broker) Ready() error {
	if st := b.State(); st != StateRunning {
		return fmt.Errorf("broker is %s", st)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Start
// -----------------------------------------------------------------------------

// Start находит топики (каталоги + объявленные в конфиге), восстанавливает
// логи и курсоры, загружает схемы и переводит брокер в Running.
// Любая фатальная ошибка восстановления прерывает старт. Восстановление идёт
// без b.mu: State/Ready отвечают всё время сканирования.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateStarting || b.starting {
		st := b.state
		b.mu.Unlock()
		return fmt.Errorf("broker: start in state %s", st)
	}
	b.starting = true
	b.mu.Unlock()
	log := b.log.WithContext(ctx)

	schemas := make(map[string]*gojsonschema.Schema, len(b.cfg.Schemas))
	for name, path := range b.cfg.Schemas {
		s, err := loadSchemaFile(path)
		if err != nil {
			log.Error("broker: schema load failed", zap.String("topic", name), zap.String("path", path), zap.Error(err))
			b.abortStart()
			return err
		}
		schemas[name] = s
	}

	names, err := b.discoverTopics()
	if err != nil {
		log.Error("broker: topic discovery failed", zap.Error(err))
		b.abortStart()
		return err
	}
	opened := make(map[string]*topic, len(names))
	for _, name := range names {
		t, err := b.openTopic(name)
		if err != nil {
			_ = closeTopics(opened)
			log.Error("broker: recovery failed", zap.String("topic", name), zap.Error(err))
			b.abortStart()
			return err
		}
		opened[name] = t
	}

	b.mu.Lock()
	if b.state != StateStarting {
		b.mu.Unlock()
		_ = closeTopics(opened)
		return fmt.Errorf("%w: stopped during start", ErrShuttingDown)
	}
	for name, sc := range schemas {
		b.schemas[name] = sc
	}
	for name, t := range opened {
		if sc, ok := b.schemas[name]; ok {
			t.setSchema(sc)
		}
		b.topics[name] = t
	}
	b.state = StateRunning
	b.mu.Unlock()

	log.Info("broker: running", zap.Int("topics", len(opened)), zap.String("backend", b.cfg.Backend))
	return nil
}

// abortStart переводит брокер в Stopped после неудачного старта.
func (b *Broker) abortStart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateStarting {
		b.state = StateStopped
		close(b.stopped)
	}
}

func (b *Broker) discoverTopics() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	if b.cfg.Backend == BackendFile {
		if err := os.MkdirAll(b.cfg.StorageDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: storage dir: %w", ErrIO, err)
		}
		entries, err := os.ReadDir(b.cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("%w: storage dir: %w", ErrIO, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if err := validateName("topic", e.Name()); err != nil {
				b.log.Warn("broker: skipping directory with invalid topic name", zap.String("dir", e.Name()))
				continue
			}
			add(e.Name())
		}
	}
	for _, n := range b.cfg.Topics {
		add(n)
	}
	sort.Strings(names)
	return names, nil
}

// openTopic создаёт и восстанавливает топик, не регистрируя его в брокере.
func (b *Broker) openTopic(name string) (*topic, error) {
	store, offStore, err := b.factory(name)
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s: open stores: %w", ErrIO, name, err)
	}
	t := newTopic(name, store, offsets.NewManager(offStore), b.cfg, b.log)
	rec, err := t.open()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if rec.TruncatedBytes > 0 {
		truncatedBytes.WithLabelValues(name).Add(float64(rec.TruncatedBytes))
	}
	degradedGauge.WithLabelValues(name).Set(0)
	b.log.Debug("broker: topic opened",
		zap.String("topic", name),
		zap.Uint64("head", rec.Last),
		zap.Int64("truncated_bytes", rec.TruncatedBytes),
	)
	return t, nil
}

// openTopicLocked открывает топик и регистрирует его. Вызывается под b.mu.
func (b *Broker) openTopicLocked(name string) (*topic, error) {
	t, err := b.openTopic(name)
	if err != nil {
		return nil, err
	}
	if sc, ok := b.schemas[name]; ok {
		t.setSchema(sc)
	}
	b.topics[name] = t
	return t, nil
}

// topicFor возвращает топик, лениво создавая его при create и auto_create_topics.
func (b *Broker) topicFor(name string, create bool) (*topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	if !create || !b.cfg.autoCreate() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	if b.state != StateRunning {
		return nil, fmt.Errorf("%w: topic %s", ErrShuttingDown, name)
	}
	return b.openTopicLocked(name)
}

// enter проверяет фазу и регистрирует in-flight публикацию.
func (b *Broker) enter() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateRunning:
		b.inflight.Add(1)
		return nil
	case StateStarting:
		return ErrNotStarted
	default:
		return ErrShuttingDown
	}
}

// -----------------------------------------------------------------------------
// Publish
// -----------------------------------------------------------------------------

// Publish проверяет запрос, ждёт ёмкость, пишет запись в лог и
// возвращает её offset после того, как запись стала durable.
func (b *Broker) Publish(ctx context.Context, topicName string, payload []byte, opts ...PublishOption) (Receipt, error) {
	var o publishOptions
	for _, fn := range opts {
		fn(&o)
	}
	ctx, span := tracer.Start(ctx, "Broker.Publish", trace.WithAttributes(
		attribute.String("broker.topic", topicName),
		attribute.Int("broker.payload_bytes", len(payload)),
	))
	defer span.End()

	rcpt, err := b.publish(ctx, topicName, payload, o)
	if err != nil {
		publishErrors.WithLabelValues(topicName, reason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, err
	}
	span.SetAttributes(attribute.Int64("broker.offset", int64(rcpt.Offset)))
	return rcpt, nil
}

func (b *Broker) publish(ctx context.Context, topicName string, payload []byte, o publishOptions) (Receipt, error) {
	if err := b.enter(); err != nil {
		return Receipt{}, err
	}
	defer b.inflight.Done()

	if err := validateName("topic", topicName); err != nil {
		return Receipt{}, err
	}
	if len(payload) > b.cfg.MaxPayloadBytes {
		return Receipt{}, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrValidation, len(payload), b.cfg.MaxPayloadBytes)
	}
	t, err := b.topicFor(topicName, true)
	if err != nil {
		return Receipt{}, err
	}
	if err := validatePayload(t.currentSchema(), payload); err != nil {
		return Receipt{}, err
	}

	if err := t.reserve(ctx, b.draining, b.cfg.PublishTimeout); err != nil {
		return Receipt{}, err
	}

	cmd := wal.Command{
		ID:         uuid.NewString(),
		ProducerID: o.producerID,
		Topic:      topicName,
		ProducedAt: time.Now().UTC(),
		Payload:    bytes.Clone(payload),
	}
	off, err := t.store.Append(cmd)
	if errors.Is(err, wal.ErrClosed) {
		// лог закрыт остановкой брокера после drain_timeout
		t.release()
		return Receipt{}, fmt.Errorf("%w: topic %s", ErrShuttingDown, topicName)
	}
	if err != nil {
		t.release()
		t.appendFailed(err)
		b.log.WithContext(ctx).Warn("broker: append failed", zap.String("topic", topicName), zap.Error(err))
		return Receipt{}, fmt.Errorf("%w: topic %s: append: %w", ErrIO, topicName, err)
	}
	cmd.Offset = off
	t.appended(cmd)
	publishedTotal.WithLabelValues(topicName).Inc()

	return Receipt{Offset: off, ID: cmd.ID}, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	case errors.Is(err, ErrShuttingDown):
		return "shutting_down"
	case errors.Is(err, ErrUnknownTopic):
		return "unknown_topic"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// -----------------------------------------------------------------------------
// Subscribe / Ack / Cursor
// -----------------------------------------------------------------------------

// Subscribe открывает курсор группы. Одна открытая подписка на (topic, group).
func (b *Broker) Subscribe(ctx context.Context, topicName, group string, opts ...SubscribeOption) (*Subscription, error) {
	var o subscribeOptions
	for _, fn := range opts {
		fn(&o)
	}
	if err := b.acceptSubscribe(); err != nil {
		return nil, err
	}
	if err := validateName("topic", topicName); err != nil {
		return nil, err
	}
	if err := validateName("group", group); err != nil {
		return nil, err
	}
	t, err := b.topicFor(topicName, true)
	if err != nil {
		return nil, err
	}
	committed, err := t.attach(group, o.fromLatest)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		b:      b,
		t:      t,
		group:  group,
		next:   committed + 1,
		closed: make(chan struct{}),
	}

	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		t.groups.Detach(group)
		return nil, fmt.Errorf("%w: topic %s", ErrShuttingDown, topicName)
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	subscriptionsGauge.Inc()

	b.log.WithContext(ctx).Info("broker: subscribed",
		zap.String("topic", topicName),
		zap.String("group", group),
		zap.Uint64("from", committed+1),
	)
	return sub, nil
}

func (b *Broker) acceptSubscribe() error {
	switch b.State() {
	case StateRunning:
		return nil
	case StateStarting:
		return ErrNotStarted
	default:
		return ErrShuttingDown
	}
}

// Ack коммитит offset группы. Ack ≤ committed — no-op, ack > head — ошибка
// валидации. Возвращает управление после сохранения offset'а.
// Принимается и во время Draining: остановка ждёт именно этих ack'ов.
func (b *Broker) Ack(ctx context.Context, topicName, group string, offset uint64) error {
	ctx, span := tracer.Start(ctx, "Broker.Ack", trace.WithAttributes(
		attribute.String("broker.topic", topicName),
		attribute.String("broker.group", group),
		attribute.Int64("broker.offset", int64(offset)),
	))
	defer span.End()

	err := b.ack(topicName, group, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.log.WithContext(ctx).Debug("broker: ack rejected", zap.String("topic", topicName), zap.Error(err))
	}
	return err
}

func (b *Broker) ack(topicName, group string, offset uint64) error {
	switch b.State() {
	case StateStarting:
		return ErrNotStarted
	case StateStopped:
		return ErrShuttingDown
	}
	t, err := b.topicFor(topicName, false)
	if err != nil {
		return err
	}
	if head := t.head(); offset > head {
		return fmt.Errorf("%w: ack %d beyond head %d of topic %s", ErrValidation, offset, head, topicName)
	}
	if offset == 0 {
		return nil
	}
	before, _ := t.groups.Cursor(group)
	if err := t.commit(group, offset); err != nil {
		return err
	}
	if offset > before {
		ackedTotal.WithLabelValues(topicName, group).Inc()
	}
	b.signal()
	return nil
}

// Cursor возвращает закоммиченный offset группы.
func (b *Broker) Cursor(topicName, group string) (uint64, error) {
	t, err := b.topicFor(topicName, false)
	if err != nil {
		return 0, err
	}
	off, ok := t.groups.Cursor(group)
	if !ok {
		return 0, fmt.Errorf("%w: topic %s, group %s", ErrUnknownGroup, topicName, group)
	}
	return off, nil
}

// RemoveGroup забывает группу, освобождая удерживаемую ею ёмкость.
func (b *Broker) RemoveGroup(topicName, group string) error {
	t, err := b.topicFor(topicName, false)
	if err != nil {
		return err
	}
	return t.removeGroup(group)
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// Topics — имена известных топиков.
func (b *Broker) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.topics))
	for n := range b.topics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stats — снимок топика.
func (b *Broker) Stats(topicName string) (TopicStats, error) {
	t, err := b.topicFor(topicName, false)
	if err != nil {
		return TopicStats{}, err
	}
	return t.stats(), nil
}

// RegisterSchema включает проверку payload'ов топика по JSON Schema.
func (b *Broker) RegisterSchema(topicName string, schema []byte) error {
	if err := validateName("topic", topicName); err != nil {
		return err
	}
	s, err := compileSchema(schema)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.schemas[topicName] = s
	t := b.topics[topicName]
	b.mu.Unlock()
	if t != nil {
		t.setSchema(s)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Shutdown
// -----------------------------------------------------------------------------

// Shutdown: Draining → ожидание in-flight публикаций → ожидание ack'ов по
// выданным записям (не дольше drain_timeout/ctx) → закрытие подписок →
// fsync и закрытие логов → Stopped. Повторный вызов ждёт первой остановки.
func (b *Broker) Shutdown(ctx context.Context) error {
	log := b.log.WithContext(ctx)

	b.mu.Lock()
	switch b.state {
	case StateStarting:
		b.state = StateStopped
		close(b.draining)
		close(b.stopped)
		b.mu.Unlock()
		return nil
	case StateDraining, StateStopped:
		b.mu.Unlock()
		select {
		case <-b.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.state = StateDraining
	close(b.draining)
	b.mu.Unlock()
	log.Info("broker: draining")

	deadline := time.NewTimer(b.cfg.DrainTimeout)
	defer deadline.Stop()

	b.waitInflight(ctx, deadline.C)
	b.waitAcks(ctx, deadline.C)

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}

	b.mu.Lock()
	err := b.closeTopicsLocked()
	b.state = StateStopped
	close(b.stopped)
	b.mu.Unlock()

	if err != nil {
		log.Error("broker: stopped with errors", zap.Error(err))
		return err
	}
	log.Info("broker: stopped")
	return nil
}

func (b *Broker) waitInflight(ctx context.Context, deadline <-chan time.Time) {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-deadline:
		b.log.Warn("broker: drain timeout waiting for in-flight publishes")
	case <-ctx.Done():
		b.log.Warn("broker: shutdown context done waiting for in-flight publishes", zap.Error(ctx.Err()))
	}
}

func (b *Broker) waitAcks(ctx context.Context, deadline <-chan time.Time) {
	for {
		b.mu.Lock()
		pending := 0
		for s := range b.subs {
			if s.pending() {
				pending++
			}
		}
		ch := b.changed
		b.mu.Unlock()

		if pending == 0 {
			return
		}
		select {
		case <-ch:
		case <-deadline:
			b.log.Warn("broker: drain timeout, unacked deliveries will be redelivered", zap.Int("subscriptions", pending))
			return
		case <-ctx.Done():
			b.log.Warn("broker: shutdown context done before acks", zap.Int("subscriptions", pending), zap.Error(ctx.Err()))
			return
		}
	}
}

func (b *Broker) closeTopicsLocked() error {
	return closeTopics(b.topics)
}

func closeTopics(topics map[string]*topic) error {
	var err error
	for name, t := range topics {
		if serr := t.store.Sync(); serr != nil {
			err = multierr.Append(err, fmt.Errorf("topic %s: sync: %w", name, serr))
		}
		if cerr := t.store.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("topic %s: close: %w", name, cerr))
		}
	}
	return err
}

// signal будит ожидающих в waitAcks.
func (b *Broker) signal() {
	b.mu.Lock()
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()
}

// forget убирает закрытую подписку из реестра.
func (b *Broker) forget(s *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		subscriptionsGauge.Dec()
	}
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()
}
