package rrt

import (
	"io"
	"runtime/debug"
	"sync"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"

	"github.com/lixenwraith/reactor/broadcast"
)

// workerLoop is the body of one generation's goroutine
type workerLoop[E any] struct {
	name       string
	factory    Factory[E]
	tx         *broadcast.Sender[Event[E]]
	slot       *wakerSlot
	liveness   *Liveness
	clock      clock.Clock
	logger     loggo.Logger
	metrics    *Metrics
	notifyStop bool

	// mu is the supervisor's liveness lock, taken to retire the generation
	mu      *poisonMutex
	guard   *terminationGuard
	current Worker[E]
}

// run drives w until Stop, policy exhaustion, a panic, or loss of every
// subscriber. Cleanup runs exactly once on every path.
func (l *workerLoop[E]) run(w Worker[E]) {
	// Taken before the recover boundary so a corrupted worker cannot prevent
	// the final notification
	notify := NewEmitter(l.tx)

	l.guard = &terminationGuard{slot: l.slot, liveness: l.liveness, logger: l.logger, name: l.name}
	defer l.guard.release()

	l.metrics.generationStarted(l.name)

	l.current = w

	// Panics are never retried: they signal a broken worker invariant, not a
	// transient environment condition
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			l.logger.Errorf("%s gen %d: worker panicked: %v\n%s", l.name, l.liveness.Generation(), r, stack)
			l.retire(func() {
				notify.shutdown(ShutdownReason{Kind: ShutdownPanic, PanicValue: r, Stack: stack})
				l.metrics.shutdown(l.name, ShutdownPanic)
			})
		}
	}()

	l.logger.Infof("%s gen %d: polling", l.name, l.liveness.Generation())
	l.poll(NewEmitter(l.tx))
}

// poll returns once the generation has been retired
func (l *workerLoop[E]) poll(emit *Emitter[E]) {
	policy := policyOf(l.current)
	if err := policy.Validate(); err != nil {
		l.logger.Warningf("%s: %v, falling back to no restarts", l.name, err)
		policy = NoRestarts()
	}
	backoff := policy.Backoff()

	for {
		verdict := l.current.PollOnce(emit)
		switch verdict {
		case Continue:
			if l.retireIfUnobserved("no subscribers left") {
				return
			}

		case Stop:
			l.logger.Infof("%s gen %d: worker stopped", l.name, l.liveness.Generation())
			var last func()
			if l.notifyStop {
				last = func() {
					emit.shutdown(ShutdownReason{Kind: ShutdownWorkerStop})
					l.metrics.shutdown(l.name, ShutdownWorkerStop)
				}
			}
			l.retire(last)
			return

		case Restart:
			closeWorker(l.current, l.logger)
			l.current = nil

			next, last := l.recreate(policy, backoff)
			if next == nil {
				l.retire(last)
				return
			}
			l.current = next

			// The old waker was dead during the retry; a subscriber that left
			// meanwhile could not wake anybody
			if l.retireIfUnobserved("no subscribers left after restart") {
				return
			}

		default:
			l.logger.Errorf("%s: unknown continuation %d, stopping", l.name, verdict)
			l.retire(nil)
			return
		}
	}
}

// retireIfUnobserved ends the generation when nobody is subscribed. The count
// is rechecked under the liveness lock: Subscribe joins a Running generation
// under the same lock, so a subscriber either arrives before the recheck and
// keeps this generation polling, or finds it Terminated and spawns a new one.
func (l *workerLoop[E]) retireIfUnobserved(why string) bool {
	if l.tx.ReceiverCount() > 0 {
		return false
	}
	if err := l.mu.lock(); err != nil {
		l.logger.Errorf("%s gen %d: retiring without lock: %v", l.name, l.liveness.Generation(), err)
		l.finish(nil)
		return true
	}
	defer l.mu.unlock()

	if l.tx.ReceiverCount() > 0 {
		l.logger.Debugf("%s gen %d: subscriber arrived while exiting, polling on", l.name, l.liveness.Generation())
		return false
	}
	l.logger.Debugf("%s gen %d: %s, exiting", l.name, l.liveness.Generation(), why)
	l.finish(nil)
	return true
}

// retire ends the generation under the liveness lock. A Subscribe racing with
// it either joins before last sends the final event, or waits for the worker
// to be closed and spawns the next generation.
func (l *workerLoop[E]) retire(last func()) {
	if err := l.mu.lock(); err != nil {
		l.logger.Errorf("%s gen %d: retiring without lock: %v", l.name, l.liveness.Generation(), err)
		l.finish(last)
		return
	}
	defer l.mu.unlock()
	l.finish(last)
}

// finish closes the worker, sends last, then clears the slot and marks the
// generation Terminated
func (l *workerLoop[E]) finish(last func()) {
	closeWorker(l.current, l.logger)
	l.current = nil
	if last != nil {
		last()
	}
	l.metrics.generationEnded(l.name)
	l.guard.release()
}

// recreate runs one restart episode. The budget counts consecutive failures
// only: a successful Factory call resets both the count and the backoff.
// On failure it returns a nil worker and the final notification to send.
func (l *workerLoop[E]) recreate(policy RestartPolicy, backoff *Backoff) (Worker[E], func()) {
	var restarts uint32
	for {
		restarts++
		if restarts > policy.MaxRestarts {
			l.logger.Errorf("%s gen %d: restart budget exhausted after %d attempts (%v)",
				l.name, l.liveness.Generation(), restarts, policy)
			return nil, func() {
				NewEmitter(l.tx).shutdown(ShutdownReason{Kind: ShutdownRestartPolicyExhausted, Attempts: restarts})
				l.metrics.shutdown(l.name, ShutdownRestartPolicyExhausted)
			}
		}

		if delay := backoff.Next(); delay > 0 {
			<-l.clock.After(delay)
		}

		w, waker, err := l.factory()
		if err != nil {
			l.logger.Warningf("%s gen %d: restart attempt %d failed: %v", l.name, l.liveness.Generation(), restarts, err)
			l.metrics.restartAttempt(l.name, false)
			continue
		}

		if err := l.slot.install(waker); err != nil {
			// Nobody can wake this worker; treat as a broken generation
			l.logger.Errorf("%s gen %d: cannot install waker: %v", l.name, l.liveness.Generation(), err)
			closeWorker(w, l.logger)
			return nil, func() {
				NewEmitter(l.tx).shutdown(ShutdownReason{Kind: ShutdownPanic, PanicValue: err})
				l.metrics.shutdown(l.name, ShutdownPanic)
			}
		}

		l.logger.Warningf("%s gen %d: worker restarted after %d attempt(s)", l.name, l.liveness.Generation(), restarts)
		l.metrics.restartAttempt(l.name, true)
		backoff.Reset()
		return w, nil
	}
}

// closeWorker releases workers that hold resources. A panicking Close is
// logged, not propagated: it may run inside the loop's recover handler.
func closeWorker[E any](w Worker[E], logger loggo.Logger) {
	if w == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("worker close panicked: %v", r)
		}
	}()
	if c, ok := w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Debugf("worker close: %v", err)
		}
	}
}

// terminationGuard performs generation cleanup exactly once. The loop
// releases it under the liveness lock; the deferred call in run is a backstop.
//
// Order matters: the slot is cleared before the liveness flips to Terminated.
// A concurrent slow-path Subscribe only installs a new waker after observing
// Terminated, so this guard can never wipe a newer generation's waker.
type terminationGuard struct {
	slot     *wakerSlot
	liveness *Liveness
	logger   loggo.Logger
	name     string
	once     sync.Once
}

func (g *terminationGuard) release() {
	g.once.Do(func() {
		if err := g.slot.clear(); err != nil {
			g.logger.Errorf("%s gen %d: clearing waker: %v", g.name, g.liveness.Generation(), err)
		}
		g.liveness.markTerminated()
		g.logger.Infof("%s gen %d: terminated", g.name, g.liveness.Generation())
	})
}
