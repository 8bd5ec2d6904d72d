package audio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gdamore/tcell/v2"
	"github.com/juju/errors"

	"github.com/lixenwraith/reactor/rrt"
	"github.com/lixenwraith/reactor/service"
	"github.com/lixenwraith/reactor/terminal"
)

var _ service.Service = (*Service)(nil)

// screens opens one simulation screen and fails afterwards
type screens struct {
	mu    sync.Mutex
	opens atomic.Int32
	first tcell.SimulationScreen
}

func (s *screens) open() (tcell.Screen, error) {
	if s.opens.Add(1) > 1 {
		return nil, errors.New("no tty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.first = tcell.NewSimulationScreen("UTF-8")
	return s.first, nil
}

func (s *screens) screen() tcell.SimulationScreen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

func waitRung(c *qt.C, b *Bell, n uint64) {
	c.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.Rung() < n {
		if time.Now().After(deadline) {
			c.Fatalf("rung %d chimes, want %d", b.Rung(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServiceChimesOnKeysAndShutdown(t *testing.T) {
	c := qt.New(t)
	scr := &screens{}
	sup := rrt.New(terminal.NewScreenFactory(scr.open))
	out := &recorder{}

	svc := NewService()
	c.Assert(svc.Dependencies(), qt.DeepEquals, []string{"terminal"})
	c.Assert(svc.Init(sup, out), qt.IsNil)
	c.Assert(svc.Start(), qt.IsNil)
	c.Assert(svc.Disabled(), qt.IsFalse)
	c.Assert(sup.ReceiverCount(), qt.Equals, 1)

	sim := scr.screen()
	c.Assert(sim.PostEvent(tcell.NewEventKey(tcell.KeyRune, 'a', tcell.ModNone)), qt.IsNil)
	waitRung(c, svc.Bell(), 1)
	c.Assert(sim.PostEvent(tcell.NewEventKey(tcell.KeyCtrlG, 0, tcell.ModCtrl)), qt.IsNil)
	waitRung(c, svc.Bell(), 2)

	// The screen dies and cannot be reopened; the supervisor gives up
	c.Assert(sim.PostEvent(tcell.NewEventError(errors.New("tty gone"))), qt.IsNil)
	waitRung(c, svc.Bell(), 3)

	c.Assert(svc.Stop(), qt.IsNil)
	c.Assert(svc.Stop(), qt.IsNil)
	c.Assert(out.closed, qt.IsTrue)

	deadline := time.Now().Add(5 * time.Second)
	for sup.State() != rrt.Terminated {
		if time.Now().After(deadline) {
			c.Fatalf("supervisor still %v", sup.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServiceWithoutDeviceStaysSilent(t *testing.T) {
	c := qt.New(t)
	scr := &screens{}
	sup := rrt.New(terminal.NewScreenFactory(scr.open))

	svc := NewService()
	c.Assert(svc.Init(sup, &recorder{initErr: errors.New("no card")}), qt.IsNil)
	c.Assert(svc.Start(), qt.IsNil)
	c.Assert(svc.Disabled(), qt.IsTrue)
	c.Assert(sup.ReceiverCount(), qt.Equals, 0)
	c.Assert(sup.State(), qt.Equals, rrt.NotStarted)
	c.Assert(svc.Stop(), qt.IsNil)
}

func TestServiceInitValidation(t *testing.T) {
	c := qt.New(t)
	svc := NewService()

	c.Assert(errors.Is(svc.Init(), errors.NotValid), qt.IsTrue)
	c.Assert(errors.Is(svc.Init("stdin"), errors.NotValid), qt.IsTrue)
	c.Assert(errors.Is(svc.Start(), errors.NotValid), qt.IsTrue)

	sup := rrt.New(terminal.NewScreenFactory((&screens{}).open))
	c.Assert(errors.Is(svc.Init(sup, 42), errors.NotValid), qt.IsTrue)
}
