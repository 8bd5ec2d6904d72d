package rrt

import (
	"fmt"
)

// ShutdownKind classifies why a generation ended with a notification
type ShutdownKind uint8

const (
	// ShutdownRestartPolicyExhausted: consecutive recreation failures exceeded the budget
	ShutdownRestartPolicyExhausted ShutdownKind = iota
	// ShutdownPanic: the worker panicked; never retried
	ShutdownPanic
	// ShutdownWorkerStop: the worker returned Stop and stop notification is enabled
	ShutdownWorkerStop
)

func (k ShutdownKind) String() string {
	switch k {
	case ShutdownRestartPolicyExhausted:
		return "RestartPolicyExhausted"
	case ShutdownPanic:
		return "Panic"
	case ShutdownWorkerStop:
		return "WorkerStop"
	default:
		return "Unknown"
	}
}

// ShutdownReason is the payload of the terminal event of a generation
type ShutdownReason struct {
	Kind ShutdownKind

	// Attempts is the number of consecutive failed recreations (RestartPolicyExhausted)
	Attempts uint32

	// PanicValue and Stack are set for ShutdownPanic
	PanicValue any
	Stack      string
}

func (r ShutdownReason) String() string {
	switch r.Kind {
	case ShutdownRestartPolicyExhausted:
		return fmt.Sprintf("%s{attempts: %d}", r.Kind, r.Attempts)
	case ShutdownPanic:
		return fmt.Sprintf("%s{%v}", r.Kind, r.PanicValue)
	default:
		return r.Kind.String()
	}
}

// Event is what subscribers receive: either a worker payload or, exactly
// once and last for a generation, a shutdown notification.
type Event[E any] struct {
	Payload  E
	Shutdown *ShutdownReason
}

// IsShutdown reports whether this is the terminal event of a generation
func (e Event[E]) IsShutdown() bool {
	return e.Shutdown != nil
}
