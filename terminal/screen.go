package terminal

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/juju/errors"

	"github.com/lixenwraith/reactor/rrt"
)

// DefaultScreenPolicy restarts a failed screen twice with a short pause
func DefaultScreenPolicy() rrt.RestartPolicy {
	return rrt.ConstantPolicy(2, 100*time.Millisecond)
}

// ScreenOpener creates an uninitialised tcell screen, e.g. tcell.NewScreen
type ScreenOpener func() (tcell.Screen, error)

// NewScreenFactory returns a factory of ScreenWorkers. Each worker owns one
// screen from open, initialised in the factory and finalised on Close.
func NewScreenFactory(open ScreenOpener) rrt.Factory[Event] {
	return func() (rrt.Worker[Event], rrt.Waker, error) {
		w, err := NewScreenWorker(open)
		if err != nil {
			return nil, nil, err
		}
		return w, w.waker, nil
	}
}

// ScreenWorker adapts tcell's event loop. tcell owns the blocking read; the
// worker only translates what PollEvent returns.
type ScreenWorker struct {
	screen tcell.Screen
	waker  *screenWaker
	policy rrt.RestartPolicy
}

// NewScreenWorker opens and initialises a screen
func NewScreenWorker(open ScreenOpener) (*ScreenWorker, error) {
	screen, err := open()
	if err != nil {
		return nil, errors.Annotate(err, "open screen")
	}
	if err := screen.Init(); err != nil {
		return nil, errors.Annotate(err, "init screen")
	}
	screen.EnableMouse()

	return &ScreenWorker{
		screen: screen,
		waker:  newScreenWaker(screen),
		policy: DefaultScreenPolicy(),
	}, nil
}

// Screen exposes the underlying screen for drawing
func (w *ScreenWorker) Screen() tcell.Screen {
	return w.screen
}

// RestartPolicy implements rrt.PolicyProvider
func (w *ScreenWorker) RestartPolicy() rrt.RestartPolicy {
	return w.policy
}

// PollOnce implements rrt.Worker
func (w *ScreenWorker) PollOnce(emit *rrt.Emitter[Event]) rrt.Continuation {
	ev := w.screen.PollEvent()
	if ev == nil {
		// Screen finalised
		return rrt.Stop
	}

	switch ev := ev.(type) {
	case *tcell.EventInterrupt:
		if ev.Data() == wakeToken {
			w.waker.rearm()
		}
	case *tcell.EventError:
		logger.Warningf("screen error: %v", ev)
		return rrt.Restart
	case *tcell.EventKey:
		emit.Emit(fromTcellKey(ev))
	case *tcell.EventResize:
		width, height := ev.Size()
		emit.Emit(Event{Type: EventResize, Width: width, Height: height})
	case *tcell.EventMouse:
		emit.Emit(fromTcellMouse(ev))
	}
	return rrt.Continue
}

// Close finalises the screen, restoring the terminal
func (w *ScreenWorker) Close() error {
	w.waker.close()
	w.screen.Fini()
	return nil
}

type wakeMarker struct{}

var wakeToken any = wakeMarker{}

// screenWaker posts an interrupt event. Wakes before the worker consumed the
// previous one are dropped.
type screenWaker struct {
	screen tcell.Screen
	ev     *tcell.EventInterrupt
	state  chan struct{} // holds a token while a wake is in flight
	done   chan struct{}
}

func newScreenWaker(screen tcell.Screen) *screenWaker {
	return &screenWaker{
		screen: screen,
		ev:     tcell.NewEventInterrupt(wakeToken),
		state:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Wake implements rrt.Waker
func (s *screenWaker) Wake() {
	select {
	case <-s.done:
		return
	case s.state <- struct{}{}:
	default:
		return
	}
	if err := s.screen.PostEvent(s.ev); err != nil {
		// Queue full: the worker is awake anyway
		s.rearm()
	}
}

func (s *screenWaker) rearm() {
	select {
	case <-s.state:
	default:
	}
}

func (s *screenWaker) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

var tcellKeys = map[tcell.Key]Key{
	tcell.KeyEscape:    KeyEscape,
	tcell.KeyEnter:     KeyEnter,
	tcell.KeyTab:       KeyTab,
	tcell.KeyBacktab:   KeyBacktab,
	tcell.KeyBackspace: KeyBackspace,
	tcell.KeyDelete:    KeyDelete,
	tcell.KeyUp:        KeyUp,
	tcell.KeyDown:      KeyDown,
	tcell.KeyLeft:      KeyLeft,
	tcell.KeyRight:     KeyRight,
	tcell.KeyHome:      KeyHome,
	tcell.KeyEnd:       KeyEnd,
	tcell.KeyPgUp:      KeyPageUp,
	tcell.KeyPgDn:      KeyPageDown,
	tcell.KeyInsert:    KeyInsert,
	tcell.KeyF1:        KeyF1,
	tcell.KeyF2:        KeyF2,
	tcell.KeyF3:        KeyF3,
	tcell.KeyF4:        KeyF4,
	tcell.KeyF5:        KeyF5,
	tcell.KeyF6:        KeyF6,
	tcell.KeyF7:        KeyF7,
	tcell.KeyF8:        KeyF8,
	tcell.KeyF9:        KeyF9,
	tcell.KeyF10:       KeyF10,
	tcell.KeyF11:       KeyF11,
	tcell.KeyF12:       KeyF12,
}

func fromTcellKey(ev *tcell.EventKey) Event {
	out := Event{Type: EventKey, Modifiers: fromTcellMods(ev.Modifiers())}

	k := ev.Key()
	switch {
	case k == tcell.KeyRune:
		out.Key = KeyRune
		out.Rune = ev.Rune()
	case k == tcell.KeyBackspace2:
		out.Key = KeyBackspace
	case k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ:
		out.Key = KeyCtrlA + Key(k-tcell.KeyCtrlA)
		// tcell reports Tab, Enter and Backspace as their control codes
		if mapped, ok := tcellKeys[k]; ok {
			out.Key = mapped
		}
	default:
		if mapped, ok := tcellKeys[k]; ok {
			out.Key = mapped
		}
	}
	return out
}

func fromTcellMods(m tcell.ModMask) Modifier {
	var mod Modifier
	if m&tcell.ModShift != 0 {
		mod |= ModShift
	}
	if m&tcell.ModAlt != 0 {
		mod |= ModAlt
	}
	if m&tcell.ModCtrl != 0 {
		mod |= ModCtrl
	}
	return mod
}

func fromTcellMouse(ev *tcell.EventMouse) Event {
	x, y := ev.Position()
	out := Event{
		Type:        EventMouse,
		MouseX:      x,
		MouseY:      y,
		Modifiers:   fromTcellMods(ev.Modifiers()),
		MouseAction: MouseActionMove,
	}

	b := ev.Buttons()
	switch {
	case b&tcell.WheelUp != 0:
		out.MouseBtn, out.MouseAction = MouseBtnWheelUp, MouseActionPress
	case b&tcell.WheelDown != 0:
		out.MouseBtn, out.MouseAction = MouseBtnWheelDown, MouseActionPress
	case b&tcell.Button1 != 0:
		out.MouseBtn, out.MouseAction = MouseBtnLeft, MouseActionPress
	case b&tcell.Button3 != 0:
		out.MouseBtn, out.MouseAction = MouseBtnMiddle, MouseActionPress
	case b&tcell.Button2 != 0:
		out.MouseBtn, out.MouseAction = MouseBtnRight, MouseActionPress
	}
	return out
}
