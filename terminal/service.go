package terminal

import (
	"sync"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/lixenwraith/reactor/rrt"
)

// Service forwards a terminal supervisor's events to a plain channel and
// reports the supervisor giving up through Errors.
type Service struct {
	name string

	mu      sync.Mutex
	sup     *rrt.Supervisor[Event]
	guard   *rrt.SubscriberGuard[Event]
	tomb    *tomb.Tomb
	stopped bool

	events chan Event
	errs   chan error
}

// NewService creates a service named name. Init supplies the supervisor.
func NewService(name string) *Service {
	return &Service{
		name:   name,
		events: make(chan Event, 256),
		errs:   make(chan error, 1),
	}
}

// Name implements service.Service
func (s *Service) Name() string {
	return s.name
}

// Dependencies implements service.Service
func (s *Service) Dependencies() []string {
	return nil
}

// Init implements service.Service
// args[0]: *rrt.Supervisor[Event] (required)
func (s *Service) Init(args ...any) error {
	if len(args) == 0 {
		return errors.NotValidf("terminal service %s without supervisor", s.name)
	}
	sup, ok := args[0].(*rrt.Supervisor[Event])
	if !ok || sup == nil {
		return errors.NotValidf("terminal service %s supervisor argument %T", s.name, args[0])
	}
	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()
	return nil
}

// Start implements service.Service - subscribes and launches forwarding
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServiceStopped
	}
	if s.tomb != nil {
		return nil
	}
	if s.sup == nil {
		return errors.NotValidf("terminal service %s not initialized", s.name)
	}

	guard, err := s.sup.Subscribe()
	if err != nil {
		return errors.Trace(err)
	}
	s.guard = guard
	s.tomb = new(tomb.Tomb)
	s.tomb.Go(s.forward)
	logger.Debugf("%s: subscribed as %s on generation %d", s.name, guard.ID(), guard.Generation())
	return nil
}

func (s *Service) forward() error {
	defer close(s.events)

	for {
		var ev rrt.Event[Event]
		select {
		case <-s.tomb.Dying():
			return nil
		case e, ok := <-s.guard.Events():
			if !ok {
				return nil
			}
			ev = e
		}

		if ev.IsShutdown() {
			logger.Errorf("%s: input supervisor shut down: %v", s.name, ev.Shutdown)
			select {
			case s.errs <- errors.Errorf("%s: %v", s.name, ev.Shutdown):
			default:
			}
			return nil
		}

		select {
		case s.events <- ev.Payload:
		case <-s.tomb.Dying():
			return nil
		}
	}
}

// Events returns forwarded terminal events. Closed when forwarding ends.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Errors implements service.Reporter
func (s *Service) Errors() <-chan error {
	return s.errs
}

// Lagged returns how many events were lost because forwarding fell behind
func (s *Service) Lagged() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guard == nil {
		return 0
	}
	return s.guard.Lagged()
}

// Stop implements service.Service - closes the subscription, which lets the
// supervisor's worker exit once nobody else is listening
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	if s.tomb == nil {
		close(s.events)
		return nil
	}
	s.tomb.Kill(nil)
	s.guard.Close()
	return s.tomb.Wait()
}
