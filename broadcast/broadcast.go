// Package broadcast provides a single-producer, multi-receiver channel.
//
// Every value sent is delivered to every receiver subscribed at send time.
// Receivers buffer up to a fixed capacity; when a receiver falls behind, the
// oldest buffered value is discarded so the newest value (typically a terminal
// notification) always lands. Receivers report how many values they lost
// through Lagged.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
)

const (
	// ErrNoReceivers is returned by Send when nobody is subscribed.
	ErrNoReceivers = errors.ConstError("broadcast: no active receivers")

	// ErrClosed is returned by Recv after the receiver has been closed.
	ErrClosed = errors.ConstError("broadcast: receiver closed")

	// ErrInvalidCapacity is returned by NewChecked for capacity < 1.
	ErrInvalidCapacity = errors.ConstError("broadcast: capacity must be positive")
)

// Sender owns the receiver set. The zero value is not usable; use New.
type Sender[T any] struct {
	mu        sync.RWMutex
	receivers map[*Receiver[T]]struct{}
	capacity  int

	// Mirrors len(receivers) for lock-free reads
	count atomic.Int64
	sent  atomic.Uint64
}

// New creates a sender whose receivers buffer up to capacity values.
// Panics if capacity < 1.
func New[T any](capacity int) *Sender[T] {
	s, err := NewChecked[T](capacity)
	if err != nil {
		panic(err)
	}
	return s
}

// NewChecked is New returning an error instead of panicking.
func NewChecked[T any](capacity int) (*Sender[T], error) {
	if capacity < 1 {
		return nil, errors.Annotatef(ErrInvalidCapacity, "got %d", capacity)
	}
	return &Sender[T]{
		receivers: make(map[*Receiver[T]]struct{}),
		capacity:  capacity,
	}, nil
}

// ReceiverCount returns the number of live receivers without locking
func (s *Sender[T]) ReceiverCount() int {
	return int(s.count.Load())
}

// Sent returns the number of successful Send calls
func (s *Sender[T]) Sent() uint64 {
	return s.sent.Load()
}

// Subscribe attaches a new receiver. It observes values sent after this call.
func (s *Sender[T]) Subscribe() *Receiver[T] {
	r := &Receiver[T]{
		ch:     make(chan T, s.capacity),
		sender: s,
	}

	s.mu.Lock()
	s.receivers[r] = struct{}{}
	s.count.Store(int64(len(s.receivers)))
	s.mu.Unlock()

	return r
}

// Send delivers v to every receiver and returns how many received it.
// Never blocks: a full receiver loses its oldest value instead.
func (s *Sender[T]) Send(v T) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.receivers) == 0 {
		return 0, ErrNoReceivers
	}

	for r := range s.receivers {
		r.push(v)
	}
	s.sent.Add(1)
	return len(s.receivers), nil
}

// detach removes r; called with r's close already in progress
func (s *Sender[T]) detach(r *Receiver[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receivers[r]; !ok {
		return
	}
	delete(s.receivers, r)
	s.count.Store(int64(len(s.receivers)))

	// Safe: Send holds RLock while pushing, so no push can be in flight
	close(r.ch)
}

// Receiver is one subscription. Values arrive on C in send order.
type Receiver[T any] struct {
	ch        chan T
	sender    *Sender[T]
	lagged    atomic.Uint64
	closeOnce sync.Once
}

// push performs a drop-oldest non-blocking send
func (r *Receiver[T]) push(v T) {
	for {
		select {
		case r.ch <- v:
			return
		default:
		}

		// Full: evict the oldest value, then retry
		select {
		case <-r.ch:
			r.lagged.Add(1)
		default:
		}
	}
}

// C returns the delivery channel. It is closed by Close.
func (r *Receiver[T]) C() <-chan T {
	return r.ch
}

// Recv blocks until a value arrives, the receiver is closed, or ctx is done
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryRecv returns a buffered value without blocking
func (r *Receiver[T]) TryRecv() (T, bool) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, false
		}
		return v, true
	default:
		return zero, false
	}
}

// Lagged returns how many values this receiver lost to overflow
func (r *Receiver[T]) Lagged() uint64 {
	return r.lagged.Load()
}

// Close detaches the receiver and closes C. Idempotent.
func (r *Receiver[T]) Close() {
	r.closeOnce.Do(func() {
		r.sender.detach(r)
	})
}
