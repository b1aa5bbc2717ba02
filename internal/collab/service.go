// internal/collab/service.go
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/backoff"
	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/safe"
	"github.com/YaganovValera/collab-monolith/common/telemetry"
	"github.com/YaganovValera/collab-monolith/internal/broker"
	"github.com/YaganovValera/collab-monolith/internal/persistence"
)

var tracer = telemetry.Tracer("collab-monolith/collab")

// Config — секция collab.* конфига.
type Config struct {
	Topic           string         `mapstructure:"topic"`
	Group           string         `mapstructure:"group"`
	MaxDocumentSize int            `mapstructure:"max_document_size"`
	Timeout         time.Duration  `mapstructure:"timeout"`
	Backoff         backoff.Config `mapstructure:"backoff"`
}

func (c *Config) ApplyDefaults() {
	if c.Topic == "" {
		c.Topic = "collab.commands"
	}
	if c.Group == "" {
		c.Group = "collab"
	}
	if c.MaxDocumentSize <= 0 {
		c.MaxDocumentSize = 10 << 20
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Subscriber — то, что воркеру нужно от брокера.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, opts ...broker.SubscribeOption) (*broker.Subscription, error)
}

// Service применяет правки из топика команд к документам и сохраняет
// снапшоты. Запись подтверждается только после сохранения снапшота;
// при сбое хранилища воркер переподписывается и получает её снова.
type Service struct {
	sub  Subscriber
	docs persistence.DocumentStorage
	cfg  Config
	log  *logger.Logger

	group  *safe.Group
	cancel context.CancelFunc
}

func New(sub Subscriber, docs persistence.DocumentStorage, cfg Config, log *logger.Logger) *Service {
	cfg.ApplyDefaults()
	Register(nil)
	return &Service{
		sub:  sub,
		docs: docs,
		cfg:  cfg,
		log:  log.Named("collab"),
	}
}

// Start запускает воркер в фоне.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group = safe.New(ctx, s.log)
	s.group.Go("collab-consumer", s.run)
	s.log.Info("collab: started", zap.String("topic", s.cfg.Topic), zap.String("group", s.cfg.Group))
}

// Shutdown останавливает воркер. Команда в обработке дорабатывает
// в пределах collab.timeout.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.group == nil {
		return nil
	}
	s.cancel()
	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("collab: shutdown: %w", ctx.Err())
	}
}

// Wait блокируется до завершения воркера и возвращает его ошибку.
func (s *Service) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// -----------------------------------------------------------------------------
// Consume loop
// -----------------------------------------------------------------------------

func (s *Service) run(ctx context.Context) error {
	attempt := 0
	err := backoff.Execute(ctx, "collab_consume", s.cfg.Backoff, s.log, func(ctx context.Context) error {
		if attempt > 0 {
			ResubscribesTotal.Inc()
		}
		attempt++
		return s.consume(ctx)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// consume держит одну подписку до ошибки. nil — штатная остановка.
func (s *Service) consume(ctx context.Context) error {
	sub, err := s.sub.Subscribe(ctx, s.cfg.Topic, s.cfg.Group)
	if err != nil {
		if stopped(ctx, err) {
			return nil
		}
		return fmt.Errorf("collab: subscribe: %w", err)
	}
	defer sub.Close()

	for d, err := range sub.All(ctx) {
		if err != nil {
			if stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("collab: next: %w", err)
		}
		if err := s.handle(ctx, sub, d); err != nil {
			return err
		}
	}
	return nil
}

func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, broker.ErrShuttingDown) ||
		errors.Is(err, broker.ErrSubscriptionClosed)
}

// handle применяет одну запись и подтверждает её. Ошибка означает,
// что запись не подтверждена и будет доставлена повторно.
func (s *Service) handle(ctx context.Context, sub *broker.Subscription, d broker.Delivery) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()
	if d.ProducerID != "" {
		ctx = logger.ContextWithProducerID(ctx, d.ProducerID)
	}
	ctx, span := tracer.Start(ctx, "Collab.Apply", trace.WithAttributes(
		attribute.Int64("broker.offset", int64(d.Offset)),
	))
	defer span.End()
	log := s.log.WithContext(ctx).With(zap.Uint64("offset", d.Offset))

	start := time.Now()
	result, err := s.apply(ctx, d)
	if err != nil {
		CommandsTotal.WithLabelValues("store_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("collab: apply failed, command will be redelivered", zap.Error(err))
		return err
	}
	ApplyLatency.Observe(time.Since(start).Seconds())
	CommandsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("collab.result", result))

	if err := sub.Ack(ctx, d.Offset); err != nil {
		return fmt.Errorf("collab: ack %d: %w", d.Offset, err)
	}
	return nil
}

// apply возвращает результат для метрик; ошибка — только сбой хранилища.
func (s *Service) apply(ctx context.Context, d broker.Delivery) (string, error) {
	log := s.log.WithContext(ctx)

	cmd, err := DecodeCommand(d.Payload)
	if err != nil {
		log.Warn("collab: dropping poison command", zap.Uint64("offset", d.Offset), zap.Error(err))
		return "poison", nil
	}

	doc, err := s.docs.LoadSnapshot(ctx, cmd.Document)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		doc = persistence.Snapshot{DocumentID: cmd.Document}
	case err != nil:
		return "", fmt.Errorf("collab: load %s: %w", cmd.Document, err)
	}
	if doc.Version >= d.Offset {
		return "duplicate", nil
	}

	content, err := Apply(doc.Content, cmd, s.cfg.MaxDocumentSize)
	if err != nil {
		log.Warn("collab: dropping command", zap.String("document", cmd.Document), zap.Uint64("offset", d.Offset), zap.Error(err))
		return "rejected", nil
	}

	next := persistence.Snapshot{
		DocumentID: cmd.Document,
		Version:    d.Offset,
		Content:    content,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.docs.SaveSnapshot(ctx, next); err != nil {
		return "", fmt.Errorf("collab: save %s: %w", cmd.Document, err)
	}
	log.Debug("collab: applied", zap.String("document", cmd.Document), zap.String("op", string(cmd.Op)))
	return "applied", nil
}
