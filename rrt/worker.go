package rrt

import (
	"github.com/lixenwraith/reactor/broadcast"
)

// Continuation is a worker's verdict after one PollOnce call
type Continuation uint8

const (
	// Continue polls again with the same worker
	Continue Continuation = iota
	// Restart discards the worker and recreates it under the restart policy
	Restart
	// Stop ends the generation cleanly
	Stop
)

func (c Continuation) String() string {
	switch c {
	case Continue:
		return "Continue"
	case Restart:
		return "Restart"
	case Stop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// Worker is one blocking polling unit owned by a single generation goroutine.
//
// PollOnce performs exactly one blocking unit of work, may emit any number of
// events, and must return promptly once the companion Waker fires so the loop
// can recheck whether anyone is still listening.
//
// A Worker that also implements io.Closer is closed when it is replaced by a
// restart or when its generation ends.
type Worker[E any] interface {
	PollOnce(emit *Emitter[E]) Continuation
}

// PolicyProvider is implemented by workers that want restarts.
// Workers without it get NoRestarts.
type PolicyProvider interface {
	RestartPolicy() RestartPolicy
}

// Waker interrupts a PollOnce call blocked on another goroutine.
// Wake must be idempotent, safe for concurrent use, and must not block.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to Waker
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Factory constructs a worker and its waker. It is called once when a
// generation is spawned and once per restart attempt. Blocking acquisition
// (opening descriptors, registering with the OS) belongs here, not in PollOnce,
// but it must not block indefinitely.
type Factory[E any] func() (Worker[E], Waker, error)

// Emitter is the worker's handle onto the supervisor's broadcast channel
type Emitter[E any] struct {
	tx *broadcast.Sender[Event[E]]
}

// NewEmitter wraps tx. Used to drive a Worker outside a Supervisor, e.g. in tests.
func NewEmitter[E any](tx *broadcast.Sender[Event[E]]) *Emitter[E] {
	return &Emitter[E]{tx: tx}
}

// Emit delivers a domain event to every current subscriber.
// Returns false when there are no subscribers.
func (e *Emitter[E]) Emit(payload E) bool {
	_, err := e.tx.Send(Event[E]{Payload: payload})
	return err == nil
}

// ReceiverCount is the number of live subscribers, read without locking
func (e *Emitter[E]) ReceiverCount() int {
	return e.tx.ReceiverCount()
}

// shutdown sends the terminal notification for a generation
func (e *Emitter[E]) shutdown(reason ShutdownReason) {
	e.tx.Send(Event[E]{Shutdown: &reason})
}

// policyOf resolves the restart policy declared by w
func policyOf[E any](w Worker[E]) RestartPolicy {
	if p, ok := w.(PolicyProvider); ok {
		return p.RestartPolicy()
	}
	return NoRestarts()
}
