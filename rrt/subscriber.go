package rrt

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lixenwraith/reactor/broadcast"
)

// SubscriberGuard is a consumer's handle on a supervisor's event stream.
// Close is the only way a consumer signals the supervisor; callers should
// `defer guard.Close()` right after a successful Subscribe.
type SubscriberGuard[E any] struct {
	id         uuid.UUID
	rx         *broadcast.Receiver[Event[E]]
	slot       *wakerSlot
	generation uint8
	sup        *Supervisor[E]
	closeOnce  sync.Once
}

// ID identifies the subscription in logs
func (g *SubscriberGuard[E]) ID() uuid.UUID {
	return g.id
}

// Generation is the generation that was running when the guard was created
func (g *SubscriberGuard[E]) Generation() uint8 {
	return g.generation
}

// Events returns the delivery channel. It is closed by Close, never by a
// worker restart.
func (g *SubscriberGuard[E]) Events() <-chan Event[E] {
	return g.rx.C()
}

// Recv blocks for the next event. Returns broadcast.ErrClosed after Close.
func (g *SubscriberGuard[E]) Recv(ctx context.Context) (Event[E], error) {
	return g.rx.Recv(ctx)
}

// TryRecv returns the next buffered event without blocking
func (g *SubscriberGuard[E]) TryRecv() (Event[E], bool) {
	return g.rx.TryRecv()
}

// Lagged returns how many events this subscriber lost by falling behind
func (g *SubscriberGuard[E]) Lagged() uint64 {
	return g.rx.Lagged()
}

// Close drops the receiver, then wakes whichever worker is installed now so
// it can notice if it has become unobserved. Idempotent.
//
// The waker is looked up at close time, not captured at subscribe time: after
// a restart the old waker belongs to a dead worker.
func (g *SubscriberGuard[E]) Close() {
	g.closeOnce.Do(func() {
		g.rx.Close()

		cfg := &g.sup.cfg
		cfg.metrics.setSubscribers(cfg.name, g.sup.tx.ReceiverCount())

		if err := g.slot.wake(); err != nil {
			cfg.logger.Warningf("%s: subscriber %s: %v", cfg.name, g.id, err)
		}
	})
}
