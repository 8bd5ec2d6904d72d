package terminal

import (
	"fmt"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("reactor.terminal")

// EventType distinguishes input event categories
type EventType uint8

const (
	EventKey    EventType = iota
	EventResize           // Width/Height set
	EventMouse            // Mouse fields set
	EventInput            // Raw bytes, decoding disabled
	EventError            // Non-fatal backend error
)

func (t EventType) String() string {
	switch t {
	case EventKey:
		return "key"
	case EventResize:
		return "resize"
	case EventMouse:
		return "mouse"
	case EventInput:
		return "input"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// MouseButton represents mouse button identity
type MouseButton uint8

const (
	MouseBtnNone MouseButton = iota
	MouseBtnLeft
	MouseBtnMiddle
	MouseBtnRight
	MouseBtnWheelUp
	MouseBtnWheelDown
)

// MouseAction represents the type of mouse event
type MouseAction uint8

const (
	MouseActionNone MouseAction = iota
	MouseActionPress
	MouseActionRelease
	MouseActionMove
	MouseActionDrag
)

// Event is the payload carried by terminal supervisors
type Event struct {
	Type      EventType
	Key       Key
	Rune      rune
	Modifiers Modifier
	Width     int    // EventResize
	Height    int    // EventResize
	Data      []byte // EventInput, owned by the receiver
	Err       error  // EventError

	MouseX      int
	MouseY      int
	MouseBtn    MouseButton
	MouseAction MouseAction
}

func (e Event) String() string {
	switch e.Type {
	case EventKey:
		if e.Key == KeyRune {
			return fmt.Sprintf("key %q mod=%d", e.Rune, e.Modifiers)
		}
		return fmt.Sprintf("key %s mod=%d", e.Key, e.Modifiers)
	case EventResize:
		return fmt.Sprintf("resize %dx%d", e.Width, e.Height)
	case EventMouse:
		return fmt.Sprintf("mouse btn=%d action=%d at %d,%d", e.MouseBtn, e.MouseAction, e.MouseX, e.MouseY)
	case EventInput:
		return fmt.Sprintf("input %q", e.Data)
	case EventError:
		return fmt.Sprintf("error %v", e.Err)
	default:
		return "unknown"
	}
}
