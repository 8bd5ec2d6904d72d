package audio

import (
	"sync"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/lixenwraith/reactor/rrt"
	"github.com/lixenwraith/reactor/terminal"
)

// Service chimes on every key from a terminal supervisor, rings the bell
// on ctrl_g, and buzzes once when the supervisor shuts down.
// Without an audio device it logs once and stays silent.
type Service struct {
	mu       sync.Mutex
	bell     *Bell
	sup      *rrt.Supervisor[terminal.Event]
	guard    *rrt.SubscriberGuard[terminal.Event]
	tomb     *tomb.Tomb
	disabled bool
}

// NewService creates the bell service
func NewService() *Service {
	return &Service{}
}

// Name implements service.Service
func (s *Service) Name() string {
	return "bell"
}

// Dependencies implements service.Service
func (s *Service) Dependencies() []string {
	return []string{"terminal"}
}

// Init implements service.Service
// args[0]: *rrt.Supervisor[terminal.Event] (required)
// args[1]: Output (optional, default system speaker)
func (s *Service) Init(args ...any) error {
	if len(args) == 0 {
		return errors.NotValidf("bell service without supervisor")
	}
	sup, ok := args[0].(*rrt.Supervisor[terminal.Event])
	if !ok || sup == nil {
		return errors.NotValidf("bell service supervisor argument %T", args[0])
	}
	var out Output
	if len(args) > 1 {
		if out, ok = args[1].(Output); !ok {
			return errors.NotValidf("bell service output argument %T", args[1])
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sup = sup
	s.bell = NewBell(out)
	return nil
}

// Start implements service.Service
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bell == nil {
		return errors.NotValidf("bell service not initialized")
	}
	if s.tomb != nil || s.disabled {
		return nil
	}
	if err := s.bell.Open(); err != nil {
		logger.Warningf("bell disabled: %v", err)
		s.disabled = true
		return nil
	}

	guard, err := s.sup.Subscribe()
	if err != nil {
		s.bell.Close()
		return errors.Trace(err)
	}
	s.guard = guard
	s.tomb = new(tomb.Tomb)
	s.tomb.Go(s.listen)
	return nil
}

func (s *Service) listen() error {
	for {
		select {
		case <-s.tomb.Dying():
			return nil
		case ev, ok := <-s.guard.Events():
			if !ok {
				return nil
			}
			if ev.IsShutdown() {
				s.bell.Ring(ChimeShutdown)
				return nil
			}
			if ev.Payload.Type != terminal.EventKey {
				continue
			}
			if ev.Payload.Key == terminal.KeyCtrlG {
				s.bell.Ring(ChimeBell)
			} else {
				s.bell.Ring(ChimeKey)
			}
		}
	}
}

// Bell returns the underlying bell, nil before Init
func (s *Service) Bell() *Bell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bell
}

// Disabled reports whether Start found no audio output
func (s *Service) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Stop implements service.Service
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tomb == nil {
		return nil
	}
	s.tomb.Kill(nil)
	s.guard.Close()
	err := s.tomb.Wait()
	s.bell.Close()
	s.tomb = nil
	return err
}
