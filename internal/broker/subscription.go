// internal/broker/subscription.go
package broker

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/YaganovValera/collab-monolith/internal/broker/wal"
)

// Delivery — запись, выданная подписке.
type Delivery = wal.Command

// SubscribeOption настраивает Subscribe.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	fromLatest bool
}

// FromLatest — новая группа начинает с текущего head, а не с первой записи.
// На существующую группу не влияет.
func FromLatest() SubscribeOption {
	return func(o *subscribeOptions) { o.fromLatest = true }
}

// Subscription — pull-курсор одной группы по одному топику.
// Next выдаёт записи строго по порядку; закрытие хендла прекращает
// доставку и не трогает закоммиченный offset.
type Subscription struct {
	b     *Broker
	t     *topic
	group string

	mu        sync.Mutex
	next      uint64 // следующий offset к выдаче
	delivered uint64 // последний выданный offset

	closed    chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) Topic() string { return s.t.name }
func (s *Subscription) Group() string { return s.group }

// Next блокируется до появления следующей записи, отмены ctx, закрытия
// хендла (ErrSubscriptionClosed) или начала остановки брокера (ErrShuttingDown).
func (s *Subscription) Next(ctx context.Context) (Delivery, error) {
	for {
		select {
		case <-s.closed:
			return Delivery{}, fmt.Errorf("%w: topic %s, group %s", ErrSubscriptionClosed, s.t.name, s.group)
		default:
		}
		select {
		case <-s.b.draining:
			return Delivery{}, fmt.Errorf("%w: topic %s, group %s", ErrShuttingDown, s.t.name, s.group)
		default:
		}

		head, changed := s.t.watch()

		s.mu.Lock()
		off := s.next
		if off <= head {
			s.next = off + 1
		}
		s.mu.Unlock()

		if off <= head {
			d, err := s.t.read(off)
			if err != nil {
				s.mu.Lock()
				if s.next == off+1 {
					s.next = off
				}
				s.mu.Unlock()
				return Delivery{}, err
			}
			s.mu.Lock()
			if off > s.delivered {
				s.delivered = off
			}
			s.mu.Unlock()
			deliveredTotal.WithLabelValues(s.t.name, s.group).Inc()
			return d, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-s.closed:
		case <-s.b.draining:
		}
	}
}

// All — итератор поверх Next. Останавливается на первой ошибке,
// отдав её вторым значением.
func (s *Subscription) All(ctx context.Context) iter.Seq2[Delivery, error] {
	return func(yield func(Delivery, error) bool) {
		for {
			d, err := s.Next(ctx)
			if err != nil {
				yield(Delivery{}, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// Ack коммитит offset группы (всё ≤ offset считается обработанным).
func (s *Subscription) Ack(ctx context.Context, offset uint64) error {
	return s.b.Ack(ctx, s.t.name, s.group, offset)
}

// Close прекращает доставку. Повторный вызов — no-op.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.t.groups.Detach(s.group)
		s.b.forget(s)
	})
	return nil
}

// pending — есть выданная, но не подтверждённая запись.
func (s *Subscription) pending() bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	committed, _ := s.t.groups.Cursor(s.group)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered > committed
}
