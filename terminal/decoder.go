package terminal

import (
	"unicode/utf8"
)

// decoder turns a raw tty byte stream into key and mouse events.
// Partial escape and UTF-8 sequences are held until more bytes arrive, so a
// read boundary never splits an event.
type decoder struct {
	buf []byte
}

func newDecoder() *decoder {
	return &decoder{buf: make([]byte, 0, 256)}
}

// feed appends data and emits every complete event. emit must not retain ev.Data.
func (d *decoder) feed(data []byte, emit func(Event)) {
	d.buf = append(d.buf, data...)
	consumed := d.parse(d.buf, emit)
	if consumed == 0 {
		return
	}
	n := copy(d.buf, d.buf[consumed:])
	d.buf = d.buf[:n]
}

// pendingEscape reports held bytes that begin with ESC: the Escape key, an
// Alt chord, or a sequence still in flight
func (d *decoder) pendingEscape() bool {
	return len(d.buf) > 0 && d.buf[0] == 0x1b
}

// flush runs once the escape timeout passed. A lone ESC is the Escape key;
// an unfinished ESC [ or ESC O is Alt+'[' or Alt+'O' followed by whatever
// came after it.
func (d *decoder) flush(emit func(Event)) {
	if !d.pendingEscape() {
		return
	}
	n := 1
	if len(d.buf) == 1 {
		emit(Event{Type: EventKey, Key: KeyEscape})
	} else {
		emit(Event{Type: EventKey, Key: KeyRune, Rune: rune(d.buf[1]), Modifiers: ModAlt})
		n = 2
	}
	n += d.parse(d.buf[n:], emit)
	m := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:m]
}

// parse returns the number of bytes consumed, stopping at an incomplete sequence
func (d *decoder) parse(data []byte, emit func(Event)) int {
	i := 0
	for i < len(data) {
		b := data[i]

		switch {
		case b >= 0x20 && b < 0x7f:
			emit(Event{Type: EventKey, Key: KeyRune, Rune: rune(b)})
			i++

		case b == 0x1b:
			if i+1 >= len(data) {
				return i
			}
			n, ev := parseEscape(data[i:])
			if n == 0 {
				return i
			}
			// Unknown but well-formed sequences are swallowed
			if ev.Key != KeyNone || ev.Type != EventKey {
				emit(ev)
			}
			i += n

		case b < 0x20:
			emit(controlKey(b))
			i++

		case b == 0x7f:
			emit(Event{Type: EventKey, Key: KeyBackspace})
			i++

		default:
			if !utf8.FullRune(data[i:]) {
				return i
			}
			r, size := utf8.DecodeRune(data[i:])
			emit(Event{Type: EventKey, Key: KeyRune, Rune: r})
			i += size
		}
	}
	return i
}

// parseEscape returns 0 when more bytes are needed
func parseEscape(data []byte) (int, Event) {
	switch c := data[1]; {
	case c == 0x1b:
		return 2, Event{Type: EventKey, Key: KeyEscape, Modifiers: ModAlt}
	case c == '[':
		return parseCSI(data)
	case c == 'O':
		if len(data) < 3 {
			return 0, Event{}
		}
		key, mod, _ := lookupSS3(data[2:3])
		return 3, Event{Type: EventKey, Key: key, Modifiers: mod}
	case c < 0x20:
		ev := controlKey(c)
		ev.Modifiers |= ModAlt
		return 2, ev
	case c < 0x7f:
		return 2, Event{Type: EventKey, Key: KeyRune, Rune: rune(c), Modifiers: ModAlt}
	}
	// ESC followed by DEL or a UTF-8 lead byte: Escape, then reparse the rest
	return 1, Event{Type: EventKey, Key: KeyEscape}
}

const maxCSILen = 16

func parseCSI(data []byte) (int, Event) {
	if len(data) < 3 {
		return 0, Event{}
	}
	if data[2] == '<' {
		return parseSGRMouse(data)
	}

	limit := min(len(data), maxCSILen)
	for end := 2; end < limit; end++ {
		b := data[end]
		if isCSIFinal(b) {
			key, mod, _ := lookupCSI(data[2 : end+1])
			return end + 1, Event{Type: EventKey, Key: key, Modifiers: mod}
		}
		if b < 0x20 || b > 0x7e {
			// Malformed, drop the introducer only
			return 2, Event{Type: EventKey, Key: KeyNone}
		}
	}
	if len(data) >= maxCSILen {
		// Runaway sequence
		return maxCSILen, Event{Type: EventKey, Key: KeyNone}
	}
	return 0, Event{}
}

func isCSIFinal(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~'
}

func controlKey(b byte) Event {
	switch {
	case b == 0x00:
		return Event{Type: EventKey, Key: KeyCtrlSpace}
	case b == 0x08:
		return Event{Type: EventKey, Key: KeyBackspace}
	case b == 0x09:
		return Event{Type: EventKey, Key: KeyTab}
	case b == 0x0a || b == 0x0d:
		return Event{Type: EventKey, Key: KeyEnter}
	case b == 0x1b:
		return Event{Type: EventKey, Key: KeyEscape}
	case b == 0x1c:
		return Event{Type: EventKey, Key: KeyCtrlBackslash}
	case b == 0x1d:
		return Event{Type: EventKey, Key: KeyCtrlBracketRight}
	case b == 0x1e:
		return Event{Type: EventKey, Key: KeyCtrlCaret}
	case b == 0x1f:
		return Event{Type: EventKey, Key: KeyCtrlUnderscore}
	case b >= 0x01 && b <= 0x1a:
		return Event{Type: EventKey, Key: KeyCtrlA + Key(b-1)}
	}
	return Event{Type: EventKey, Key: KeyNone}
}

// parseSGRMouse decodes ESC [ < Btn ; X ; Y M|m
func parseSGRMouse(data []byte) (int, Event) {
	end := 3
	for end < len(data) && end < 32 && data[end] != 'M' && data[end] != 'm' {
		end++
	}
	if end >= len(data) {
		if end >= 32 {
			return 32, Event{Type: EventKey, Key: KeyNone}
		}
		return 0, Event{}
	}
	if data[end] != 'M' && data[end] != 'm' {
		return end, Event{Type: EventKey, Key: KeyNone}
	}

	btn, x, y, ok := parseSGRParams(data[3:end])
	if !ok {
		return end + 1, Event{Type: EventKey, Key: KeyNone}
	}

	ev := Event{Type: EventMouse, MouseX: x - 1, MouseY: y - 1}

	// Bits 0-1 button, bit 5 motion, bit 6 wheel
	id := btn & 0x03
	switch {
	case btn&64 != 0:
		ev.MouseBtn = MouseBtnWheelDown
		if id == 0 {
			ev.MouseBtn = MouseBtnWheelUp
		}
		ev.MouseAction = MouseActionPress
	default:
		ev.MouseBtn = [...]MouseButton{MouseBtnLeft, MouseBtnMiddle, MouseBtnRight, MouseBtnNone}[id]
		switch {
		case data[end] == 'm':
			ev.MouseAction = MouseActionRelease
		case btn&32 != 0 && ev.MouseBtn != MouseBtnNone:
			ev.MouseAction = MouseActionDrag
		case btn&32 != 0:
			ev.MouseAction = MouseActionMove
		default:
			ev.MouseAction = MouseActionPress
		}
	}

	if btn&4 != 0 {
		ev.Modifiers |= ModShift
	}
	if btn&8 != 0 {
		ev.Modifiers |= ModAlt
	}
	if btn&16 != 0 {
		ev.Modifiers |= ModCtrl
	}
	return end + 1, ev
}

func parseSGRParams(data []byte) (btn, x, y int, ok bool) {
	var vals [3]int
	field := 0
	for _, b := range data {
		switch {
		case b == ';':
			field++
			if field > 2 {
				return 0, 0, 0, false
			}
		case b >= '0' && b <= '9':
			vals[field] = vals[field]*10 + int(b-'0')
			if vals[field] > 9999 {
				return 0, 0, 0, false
			}
		default:
			return 0, 0, 0, false
		}
	}
	if field != 2 {
		return 0, 0, 0, false
	}
	return vals[0], vals[1], vals[2], true
}
