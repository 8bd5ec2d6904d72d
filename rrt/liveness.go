package rrt

import (
	"sync/atomic"
)

// LivenessState is the lifecycle position of one generation
type LivenessState uint32

const (
	NotStarted LivenessState = iota
	Running
	Terminated
)

func (s LivenessState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Liveness tracks one generation. A new Liveness is created for every spawned
// generation; once superseded it is never written again.
//
// Generation wraps at 256 and is for observability only.
type Liveness struct {
	state      atomic.Uint32
	generation uint8
}

func newLiveness(generation uint8) *Liveness {
	return &Liveness{generation: generation}
}

// State returns the current lifecycle state
func (l *Liveness) State() LivenessState {
	return LivenessState(l.state.Load())
}

// IsRunning reports whether the generation's goroutine is still polling
func (l *Liveness) IsRunning() bool {
	return l.State() == Running
}

// Generation returns the generation number this Liveness belongs to
func (l *Liveness) Generation() uint8 {
	return l.generation
}

func (l *Liveness) markRunning() {
	l.state.Store(uint32(Running))
}

func (l *Liveness) markTerminated() {
	l.state.Store(uint32(Terminated))
}
