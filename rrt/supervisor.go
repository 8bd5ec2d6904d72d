package rrt

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/juju/loggo/v2"

	"github.com/lixenwraith/reactor/broadcast"
)

var logger = loggo.GetLogger("reactor.rrt")

// Supervisor owns at most one polling goroutine at a time and fans its events
// out to every subscriber.
//
// Construction is cheap: no channel and no goroutine exist until the first
// Subscribe. The broadcast channel and waker slot are created once and then
// shared by every generation, so subscribers never observe a channel close
// because a worker restarted.
//
// All methods are safe for concurrent use.
type Supervisor[E any] struct {
	factory Factory[E]
	cfg     config

	initOnce sync.Once
	ready    atomic.Bool
	tx       *broadcast.Sender[Event[E]]
	slot     *wakerSlot

	// mu guards liveness and generation; current mirrors liveness for lock-free reads
	mu         poisonMutex
	liveness   *Liveness
	generation uint8
	current    atomic.Pointer[Liveness]
}

// New creates a supervisor for workers built by factory
//
// Example:
//
//	sup := rrt.New(terminal.NewInputFactory(cfg),
//	    rrt.WithName("stdin"),
//	    rrt.WithMetrics(metrics),
//	)
//	guard, err := sup.Subscribe()
//	if err != nil {
//	    return err
//	}
//	defer guard.Close()
func New[E any](factory Factory[E], opts ...Option) *Supervisor[E] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Supervisor[E]{
		factory: factory,
		cfg:     cfg,
		mu:      poisonMutex{name: LockLiveness},
	}
}

func (s *Supervisor[E]) lazyInit() {
	s.initOnce.Do(func() {
		s.tx = broadcast.New[Event[E]](s.cfg.capacity)
		s.slot = newWakerSlot()
		s.ready.Store(true)
	})
}

// Subscribe attaches a new subscriber, spawning a generation if none is running.
//
// Fast path: the current generation is Running; the caller gets a receiver on
// the shared channel and nothing is spawned. This includes a generation that
// has been woken to exit but has not yet rechecked its subscriber count: the
// new subscriber keeps it alive. A generation that is already retiring holds
// the lock until it is Terminated, so the caller lands on the slow path.
//
// Slow path: no generation yet, or the last one is Terminated. The Factory is
// called, its waker installed, and a new generation spawned.
func (s *Supervisor[E]) Subscribe() (*SubscriberGuard[E], error) {
	s.lazyInit()

	if err := s.mu.lock(); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	if s.liveness != nil && s.liveness.IsRunning() {
		rx := s.tx.Subscribe()
		s.cfg.logger.Tracef("%s gen %d: subscriber joined running generation", s.cfg.name, s.liveness.Generation())
		return s.newGuard(rx, s.liveness.Generation()), nil
	}

	return s.spawnLocked()
}

// spawnLocked runs the slow path; s.mu must be held
func (s *Supervisor[E]) spawnLocked() (*SubscriberGuard[E], error) {
	worker, waker, err := s.factory()
	if err != nil {
		s.cfg.logger.Warningf("%s: worker creation failed: %v", s.cfg.name, err)
		return nil, &SubscribeError{Kind: ErrWorkerCreation, Cause: err}
	}

	if err := s.slot.install(waker); err != nil {
		closeWorker(worker, s.cfg.logger)
		return nil, err
	}

	gen := s.generation + 1
	live := newLiveness(gen)
	live.markRunning()

	// Subscribed before spawning so the new loop never sees zero receivers
	// on behalf of the subscriber that created it
	rx := s.tx.Subscribe()

	loop := &workerLoop[E]{
		name:       s.cfg.name,
		factory:    s.factory,
		tx:         s.tx,
		slot:       s.slot,
		liveness:   live,
		clock:      s.cfg.clock,
		logger:     s.cfg.logger,
		metrics:    s.cfg.metrics,
		notifyStop: s.cfg.notifyStop,
		mu:         &s.mu,
	}

	if err := s.cfg.spawner(func() { loop.run(worker) }); err != nil {
		rx.Close()
		if clearErr := s.slot.clear(); clearErr != nil {
			s.cfg.logger.Errorf("%s: clearing waker after failed spawn: %v", s.cfg.name, clearErr)
		}
		closeWorker(worker, s.cfg.logger)
		s.cfg.logger.Errorf("%s: spawning generation %d: %v", s.cfg.name, gen, err)
		return nil, &SubscribeError{Kind: ErrThreadSpawn, Cause: err}
	}

	s.generation = gen
	s.liveness = live
	s.current.Store(live)
	s.cfg.logger.Infof("%s: spawned generation %d", s.cfg.name, gen)

	return s.newGuard(rx, gen), nil
}

func (s *Supervisor[E]) newGuard(rx *broadcast.Receiver[Event[E]], gen uint8) *SubscriberGuard[E] {
	s.cfg.metrics.setSubscribers(s.cfg.name, s.tx.ReceiverCount())
	return &SubscriberGuard[E]{
		id:         uuid.New(),
		rx:         rx,
		slot:       s.slot,
		generation: gen,
		sup:        s,
	}
}

// Name returns the supervisor's label
func (s *Supervisor[E]) Name() string {
	return s.cfg.name
}

// Liveness returns the most recently spawned generation's liveness, or nil
func (s *Supervisor[E]) Liveness() *Liveness {
	return s.current.Load()
}

// State returns the state of the most recent generation
func (s *Supervisor[E]) State() LivenessState {
	if l := s.current.Load(); l != nil {
		return l.State()
	}
	return NotStarted
}

// Generation returns the most recent generation number and whether any
// generation has been spawned
func (s *Supervisor[E]) Generation() (uint8, bool) {
	if l := s.current.Load(); l != nil {
		return l.Generation(), true
	}
	return 0, false
}

// ReceiverCount returns the number of live subscribers
func (s *Supervisor[E]) ReceiverCount() int {
	if !s.ready.Load() {
		return 0
	}
	return s.tx.ReceiverCount()
}
