package rrt

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrMutexPoisoned: a goroutine panicked while holding one of the supervisor's locks
	ErrMutexPoisoned = errors.ConstError("mutex poisoned")

	// ErrWorkerCreation: the Factory failed on the slow subscribe path
	ErrWorkerCreation = errors.ConstError("worker creation failed")

	// ErrThreadSpawn: the Spawner refused to start the generation goroutine
	ErrThreadSpawn = errors.ConstError("thread spawn failed")

	// ErrInvalidPolicy is returned by RestartPolicy.Validate
	ErrInvalidPolicy = errors.ConstError("invalid restart policy")
)

// Lock names reported by ErrMutexPoisoned
const (
	LockLiveness = "liveness"
	LockWaker    = "waker"
)

// SubscribeError is returned by Supervisor.Subscribe.
// errors.Is matches both Kind and the underlying cause.
type SubscribeError struct {
	Kind  error
	Which string // lock name, ErrMutexPoisoned only
	Cause error
}

func (e *SubscribeError) Error() string {
	switch {
	case e.Which != "":
		return fmt.Sprintf("subscribe: %s mutex poisoned", e.Which)
	case e.Cause != nil:
		return fmt.Sprintf("subscribe: %v: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("subscribe: %v", e.Kind)
	}
}

func (e *SubscribeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func poisonedError(which string) error {
	return &SubscribeError{Kind: ErrMutexPoisoned, Which: which}
}
