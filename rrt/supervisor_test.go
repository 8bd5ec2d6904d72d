package rrt

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var errBusy = errors.New("device busy")

func TestNoRestartBudgetExhaustsOnFirstRestart(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{
		policy: NoRestarts(),
		steps:  []step{{verdict: Restart}},
	}
	sup := New(env.factory)

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	defer g.Close()

	ev := recvEvent(c, g)
	c.Assert(ev.IsShutdown(), qt.IsTrue)
	c.Assert(ev.Shutdown.Kind, qt.Equals, ShutdownRestartPolicyExhausted)
	c.Assert(ev.Shutdown.Attempts, qt.Equals, uint32(1))

	waitTerminated(c, sup)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(1))
	c.Assert(env.worker(0).closed.Load(), qt.IsTrue)
}

func TestExhaustionAfterConsecutiveFailures(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{
		policy: ConstantPolicy(2, 0),
		// initial spawn, then the restart outcomes
		creates: []error{nil, nil, nil, errBusy, errBusy, errBusy},
		steps: []step{
			{emit: []int{1}, verdict: Restart},
			{emit: []int{2}, verdict: Restart},
			{emit: []int{3}, verdict: Restart},
		},
	}
	sup := New(env.factory)

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	defer g.Close()

	for want := 1; want <= 3; want++ {
		ev := recvEvent(c, g)
		c.Assert(ev.IsShutdown(), qt.IsFalse)
		c.Assert(ev.Payload, qt.Equals, want)
	}

	ev := recvEvent(c, g)
	c.Assert(ev.IsShutdown(), qt.IsTrue)
	c.Assert(ev.Shutdown.Kind, qt.Equals, ShutdownRestartPolicyExhausted)
	c.Assert(ev.Shutdown.Attempts, qt.Equals, uint32(3))

	waitTerminated(c, sup)
	// 1 spawn + 2 successful restarts + 2 failures; the budget check stops
	// the third failure from ever being attempted
	c.Assert(env.createCalls.Load(), qt.Equals, int32(5))

	_, ok := g.TryRecv()
	c.Assert(ok, qt.IsFalse)
}

func TestSuccessfulRestartResetsBudget(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{
		policy: ConstantPolicy(1, 0),
		steps: []step{
			{verdict: Restart},
			{verdict: Restart},
			{verdict: Restart},
			{verdict: Stop},
		},
	}
	sup := New(env.factory)

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	defer g.Close()

	waitTerminated(c, sup)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(4))

	_, ok := g.TryRecv()
	c.Assert(ok, qt.IsFalse)
	for i := 0; i < 4; i++ {
		c.Assert(env.worker(i).closed.Load(), qt.IsTrue, qt.Commentf("worker %d", i))
	}
}

func TestStopNotification(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{steps: []step{{emit: []int{7}, verdict: Stop}}}
	sup := New(env.factory, WithStopNotification())

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	defer g.Close()

	c.Assert(recvEvent(c, g).Payload, qt.Equals, 7)
	ev := recvEvent(c, g)
	c.Assert(ev.IsShutdown(), qt.IsTrue)
	c.Assert(ev.Shutdown.Kind, qt.Equals, ShutdownWorkerStop)
	waitTerminated(c, sup)
}

func TestRestartInstallsNewWaker(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{
		policy: ConstantPolicy(1, 0),
		steps:  []step{{verdict: Restart}},
	}
	sup := New(env.factory)

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)

	waitFor(c, "restart", func() bool { return env.worker(1) != nil })
	first, second := env.worker(0), env.worker(1)
	c.Assert(first, qt.Not(qt.Equals), second)
	waitFor(c, "new waker installed", func() bool {
		return sup.slot.current() == Waker(second)
	})

	// The guard predates the restart but must wake the live worker
	g.Close()
	waitTerminated(c, sup)

	c.Assert(first.wakes.Load(), qt.Equals, int32(0))
	c.Assert(second.wakes.Load(), qt.Equals, int32(1))
	c.Assert(sup.slot.current(), qt.IsNil)
	c.Assert(second.closed.Load(), qt.IsTrue)

	// A restart does not bump the generation
	gen, ok := sup.Generation()
	c.Assert(ok, qt.IsTrue)
	c.Assert(gen, qt.Equals, uint8(1))
}

func TestFastPathSharesGeneration(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{}
	sup := New(env.factory)

	g1, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	g2, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)

	c.Assert(g1.Generation(), qt.Equals, uint8(1))
	c.Assert(g2.Generation(), qt.Equals, uint8(1))
	c.Assert(g1.ID(), qt.Not(qt.Equals), g2.ID())
	c.Assert(sup.ReceiverCount(), qt.Equals, 2)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(1))

	g1.Close()
	c.Assert(sup.ReceiverCount(), qt.Equals, 1)
	waitFor(c, "wake", func() bool { return env.worker(0).wakes.Load() == 1 })
	c.Assert(sup.State(), qt.Equals, Running)

	g2.Close()
	waitTerminated(c, sup)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(1))
}

func TestSlowPathSpawnsNextGeneration(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{}
	sup := New(env.factory)

	c.Assert(sup.State(), qt.Equals, NotStarted)
	_, ok := sup.Generation()
	c.Assert(ok, qt.IsFalse)
	c.Assert(sup.ReceiverCount(), qt.Equals, 0)

	g1, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	first := sup.Liveness()
	g1.Close()
	waitTerminated(c, sup)

	g2, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	defer func() {
		g2.Close()
		waitTerminated(c, sup)
	}()

	c.Assert(g2.Generation(), qt.Equals, uint8(2))
	c.Assert(env.createCalls.Load(), qt.Equals, int32(2))
	c.Assert(first.State(), qt.Equals, Terminated)
	c.Assert(sup.Liveness(), qt.Not(qt.Equals), first)
	c.Assert(sup.State(), qt.Equals, Running)
}

func TestSubscribeDuringRetirementSpawnsNextGeneration(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{
		closing:   make(chan struct{}, 1),
		closeGate: make(chan struct{}),
	}
	sup := New(env.factory)

	g1, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	g1.Close()

	select {
	case <-env.closing:
	case <-time.After(5 * time.Second):
		c.Fatalf("worker was never closed")
	}

	type subscribed struct {
		g   *SubscriberGuard[int]
		err error
	}
	done := make(chan subscribed, 1)
	go func() {
		g, err := sup.Subscribe()
		done <- subscribed{g, err}
	}()

	// The retiring generation holds the liveness lock until it is Terminated
	select {
	case <-done:
		c.Fatalf("subscribe joined a retiring generation")
	case <-time.After(20 * time.Millisecond):
	}
	c.Assert(sup.State(), qt.Equals, Running)

	env.push(step{emit: []int{5}})
	close(env.closeGate)

	var r subscribed
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		c.Fatalf("subscribe never returned")
	}
	c.Assert(r.err, qt.IsNil)
	c.Assert(r.g.Generation(), qt.Equals, uint8(2))
	c.Assert(env.worker(0).closed.Load(), qt.IsTrue)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(2))

	// The new subscriber is served by a live worker
	c.Assert(recvEvent(c, r.g).Payload, qt.Equals, 5)
	c.Assert(sup.State(), qt.Equals, Running)

	r.g.Close()
	waitTerminated(c, sup)
	c.Assert(env.worker(1).closed.Load(), qt.IsTrue)
}

func TestWorkerPanicIsTerminal(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{
		policy: ConstantPolicy(5, 0),
		steps:  []step{{emit: []int{1}, panic: "index out of range"}},
	}
	sup := New(env.factory)

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	defer g.Close()

	c.Assert(recvEvent(c, g).Payload, qt.Equals, 1)
	ev := recvEvent(c, g)
	c.Assert(ev.IsShutdown(), qt.IsTrue)
	c.Assert(ev.Shutdown.Kind, qt.Equals, ShutdownPanic)
	c.Assert(ev.Shutdown.PanicValue, qt.Equals, "index out of range")
	c.Assert(ev.Shutdown.Stack, qt.Not(qt.Equals), "")

	waitTerminated(c, sup)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(1))
	c.Assert(sup.slot.current(), qt.IsNil)
	c.Assert(env.worker(0).closed.Load(), qt.IsTrue)

	_, ok := g.TryRecv()
	c.Assert(ok, qt.IsFalse)
}

func TestWorkerCreationError(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{creates: []error{errBusy}}
	sup := New(env.factory)

	g, err := sup.Subscribe()
	c.Assert(g, qt.IsNil)
	c.Assert(errors.Is(err, ErrWorkerCreation), qt.IsTrue)
	c.Assert(errors.Is(err, errBusy), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `subscribe: worker creation failed: device busy`)
	c.Assert(sup.State(), qt.Equals, NotStarted)
	c.Assert(sup.ReceiverCount(), qt.Equals, 0)

	// The caller may simply try again
	g, err = sup.Subscribe()
	c.Assert(err, qt.IsNil)
	g.Close()
	waitTerminated(c, sup)
}

func TestThreadSpawnError(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{}
	errNoThreads := errors.New("resource temporarily unavailable")
	sup := New(env.factory, WithSpawner(func(func()) error {
		return errNoThreads
	}))

	_, err := sup.Subscribe()
	c.Assert(errors.Is(err, ErrThreadSpawn), qt.IsTrue)
	c.Assert(errors.Is(err, errNoThreads), qt.IsTrue)
	c.Assert(sup.ReceiverCount(), qt.Equals, 0)
	c.Assert(sup.slot.current(), qt.IsNil)
	c.Assert(env.worker(0).closed.Load(), qt.IsTrue)
	c.Assert(sup.State(), qt.Equals, NotStarted)
}

func TestFactoryPanicPoisonsLivenessLock(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{panicNew: "factory exploded"}
	sup := New(env.factory)

	c.Assert(func() { sup.Subscribe() }, qt.PanicMatches, "factory exploded")

	_, err := sup.Subscribe()
	c.Assert(errors.Is(err, ErrMutexPoisoned), qt.IsTrue)
	var serr *SubscribeError
	c.Assert(errors.As(err, &serr), qt.IsTrue)
	c.Assert(serr.Which, qt.Equals, LockLiveness)
	c.Assert(err, qt.ErrorMatches, `subscribe: liveness mutex poisoned`)
}

func TestBackoffUsesClock(t *testing.T) {
	c := qt.New(t)
	clk := testclock.NewClock(time.Time{})
	env := &fakeEnv{
		policy:  ExponentialPolicy(3, 10*time.Millisecond, 2, 25*time.Millisecond),
		creates: []error{nil, errBusy, errBusy, nil},
		steps:   []step{{verdict: Restart}},
	}
	sup := New(env.factory, WithClock(clk))

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)

	c.Assert(clk.WaitAdvance(10*time.Millisecond, time.Second, 1), qt.IsNil)
	waitFor(c, "first attempt", func() bool { return env.createCalls.Load() == 2 })

	// Second delay is doubled
	c.Assert(clk.WaitAdvance(19*time.Millisecond, time.Second, 1), qt.IsNil)
	time.Sleep(10 * time.Millisecond)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(2))
	c.Assert(clk.WaitAdvance(time.Millisecond, time.Second, 1), qt.IsNil)
	waitFor(c, "second attempt", func() bool { return env.createCalls.Load() == 3 })

	// Third is capped
	c.Assert(clk.WaitAdvance(25*time.Millisecond, time.Second, 1), qt.IsNil)
	waitFor(c, "recovery", func() bool { return env.worker(1) != nil })
	waitFor(c, "new waker installed", func() bool {
		return sup.slot.current() == Waker(env.worker(1))
	})

	g.Close()
	waitTerminated(c, sup)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(4))
}

func TestSuccessfulRestartResetsDelay(t *testing.T) {
	c := qt.New(t)
	clk := testclock.NewClock(time.Time{})
	env := &fakeEnv{
		policy:  ExponentialPolicy(3, 10*time.Millisecond, 2, time.Second),
		creates: []error{nil, errBusy},
		steps:   []step{{verdict: Restart}, {verdict: Restart}},
	}
	sup := New(env.factory, WithClock(clk))

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)

	// First episode: 10ms fails, 20ms recovers
	c.Assert(clk.WaitAdvance(10*time.Millisecond, time.Second, 1), qt.IsNil)
	waitFor(c, "failed attempt", func() bool { return env.createCalls.Load() == 2 })
	c.Assert(clk.WaitAdvance(20*time.Millisecond, time.Second, 1), qt.IsNil)
	waitFor(c, "recovery", func() bool { return env.createCalls.Load() == 3 })

	// Second episode starts over at 10ms, not 40ms
	c.Assert(clk.WaitAdvance(9*time.Millisecond, time.Second, 1), qt.IsNil)
	time.Sleep(10 * time.Millisecond)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(3))
	c.Assert(clk.WaitAdvance(time.Millisecond, time.Second, 1), qt.IsNil)
	waitFor(c, "second recovery", func() bool { return env.createCalls.Load() == 4 })
	waitFor(c, "new waker installed", func() bool {
		return sup.slot.current() == Waker(env.worker(2))
	})

	g.Close()
	waitTerminated(c, sup)
	c.Assert(env.createCalls.Load(), qt.Equals, int32(4))
}

func TestMetrics(t *testing.T) {
	c := qt.New(t)
	m := NewMetrics("test")
	env := &fakeEnv{
		policy:  ConstantPolicy(1, 0),
		creates: []error{nil, errBusy},
		steps:   []step{{verdict: Restart}},
	}
	sup := New(env.factory, WithName("stdin"), WithMetrics(m))

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	c.Assert(testutil.ToFloat64(m.subscribers.WithLabelValues("stdin")), qt.Equals, 1.0)

	ev := recvEvent(c, g)
	c.Assert(ev.Shutdown.Kind, qt.Equals, ShutdownRestartPolicyExhausted)
	c.Assert(ev.Shutdown.Attempts, qt.Equals, uint32(2))
	waitTerminated(c, sup)

	c.Assert(testutil.ToFloat64(m.generations.WithLabelValues("stdin")), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.running.WithLabelValues("stdin")), qt.Equals, 0.0)
	c.Assert(testutil.ToFloat64(m.restarts.WithLabelValues("stdin", "failed")), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.shutdowns.WithLabelValues("stdin", "RestartPolicyExhausted")), qt.Equals, 1.0)

	g.Close()
	c.Assert(testutil.ToFloat64(m.subscribers.WithLabelValues("stdin")), qt.Equals, 0.0)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := qt.New(t)
	env := &fakeEnv{}
	sup := New(env.factory)

	g, err := sup.Subscribe()
	c.Assert(err, qt.IsNil)
	g.Close()
	g.Close()
	waitTerminated(c, sup)

	c.Assert(env.worker(0).wakes.Load(), qt.Equals, int32(1))
	_, open := <-g.Events()
	c.Assert(open, qt.IsFalse)
}
