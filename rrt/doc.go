// Package rrt implements the Resilient Reactor Thread: a supervisor that keeps
// one blocking polling goroutine alive per generation and shares its output
// with any number of subscribers.
//
// Features:
//   - Lazy start: the first Subscribe creates the worker and spawns it
//   - Fan-out over a broadcast channel that outlives every generation
//   - Bounded restart with exponential backoff, reset on every success
//   - Panic containment with exactly one terminal Shutdown event
//   - Cooperative wake: closing a subscription wakes the current worker so it
//     can exit once nobody is listening
//
// A worker is anything that blocks in PollOnce and can be interrupted by its
// Waker. The terminal package provides workers for raw file descriptors and
// tcell screens.
//
// Lifecycle of a generation:
//  1. Subscribe finds no Running generation: Factory, install waker, spawn
//  2. The loop calls PollOnce until Stop, exhaustion, panic, or zero subscribers
//  3. The termination guard clears the waker slot, then marks Terminated
//  4. The next Subscribe starts generation+1 on the same channel
package rrt
