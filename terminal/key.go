package terminal

// Key represents a decoded input key
type Key uint16

const (
	KeyNone Key = iota
	KeyRune     // Printable character (check Event.Rune)

	// Control keys
	KeyEscape
	KeyEnter
	KeyTab
	KeyBacktab // Shift+Tab
	KeyBackspace
	KeyDelete

	// Navigation
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyInsert

	// Function keys
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12

	// Ctrl+letter, contiguous so KeyCtrlA+(b-1) maps control byte b
	KeyCtrlA
	KeyCtrlB
	KeyCtrlC
	KeyCtrlD
	KeyCtrlE
	KeyCtrlF
	KeyCtrlG
	KeyCtrlH
	KeyCtrlI
	KeyCtrlJ
	KeyCtrlK
	KeyCtrlL
	KeyCtrlM
	KeyCtrlN
	KeyCtrlO
	KeyCtrlP
	KeyCtrlQ
	KeyCtrlR
	KeyCtrlS
	KeyCtrlT
	KeyCtrlU
	KeyCtrlV
	KeyCtrlW
	KeyCtrlX
	KeyCtrlY
	KeyCtrlZ

	KeyCtrlSpace
	KeyCtrlBackslash
	KeyCtrlBracketRight
	KeyCtrlCaret
	KeyCtrlUnderscore
)

// Modifier flags
type Modifier uint8

const (
	ModNone  Modifier = 0
	ModShift Modifier = 1 << 0
	ModAlt   Modifier = 1 << 1
	ModCtrl  Modifier = 1 << 2
)

var keyToName = map[Key]string{
	KeyEscape:    "escape",
	KeyEnter:     "enter",
	KeyTab:       "tab",
	KeyBacktab:   "backtab",
	KeyBackspace: "backspace",
	KeyDelete:    "delete",

	KeyUp:       "up",
	KeyDown:     "down",
	KeyLeft:     "left",
	KeyRight:    "right",
	KeyHome:     "home",
	KeyEnd:      "end",
	KeyPageUp:   "page_up",
	KeyPageDown: "page_down",
	KeyInsert:   "insert",

	KeyF1:  "f1",
	KeyF2:  "f2",
	KeyF3:  "f3",
	KeyF4:  "f4",
	KeyF5:  "f5",
	KeyF6:  "f6",
	KeyF7:  "f7",
	KeyF8:  "f8",
	KeyF9:  "f9",
	KeyF10: "f10",
	KeyF11: "f11",
	KeyF12: "f12",

	KeyCtrlSpace:        "ctrl_space",
	KeyCtrlBackslash:    "ctrl_backslash",
	KeyCtrlBracketRight: "ctrl_bracket_right",
	KeyCtrlCaret:        "ctrl_caret",
	KeyCtrlUnderscore:   "ctrl_underscore",
}

var nameToKey map[string]Key

func init() {
	for k := KeyCtrlA; k <= KeyCtrlZ; k++ {
		keyToName[k] = "ctrl_" + string(rune('a'+(k-KeyCtrlA)))
	}

	nameToKey = make(map[string]Key, len(keyToName)+1)
	for k, v := range keyToName {
		nameToKey[v] = k
	}
	nameToKey["shift_tab"] = KeyBacktab
}

// KeyName returns the canonical config name of k, empty for KeyNone and KeyRune
func KeyName(k Key) string {
	return keyToName[k]
}

// KeyByName resolves a config name such as "ctrl_c" or "f5"
func KeyByName(name string) (Key, bool) {
	k, ok := nameToKey[name]
	return k, ok
}

func (k Key) String() string {
	switch k {
	case KeyNone:
		return "none"
	case KeyRune:
		return "rune"
	}
	if n, ok := keyToName[k]; ok {
		return n
	}
	return "unknown"
}

// escapeSequence maps the bytes after ESC [ or ESC O to a key
type escapeSequence struct {
	seq string
	key Key
	mod Modifier
}

// CSI sequences (ESC [ ...), xterm and VT220 flavours
var csiSequences = []escapeSequence{
	{"A", KeyUp, ModNone},
	{"B", KeyDown, ModNone},
	{"C", KeyRight, ModNone},
	{"D", KeyLeft, ModNone},
	{"Z", KeyBacktab, ModShift},

	{"1;2A", KeyUp, ModShift},
	{"1;2B", KeyDown, ModShift},
	{"1;2C", KeyRight, ModShift},
	{"1;2D", KeyLeft, ModShift},
	{"1;3A", KeyUp, ModAlt},
	{"1;3B", KeyDown, ModAlt},
	{"1;3C", KeyRight, ModAlt},
	{"1;3D", KeyLeft, ModAlt},
	{"1;5A", KeyUp, ModCtrl},
	{"1;5B", KeyDown, ModCtrl},
	{"1;5C", KeyRight, ModCtrl},
	{"1;5D", KeyLeft, ModCtrl},

	{"H", KeyHome, ModNone},
	{"F", KeyEnd, ModNone},
	{"1~", KeyHome, ModNone},
	{"2~", KeyInsert, ModNone},
	{"3~", KeyDelete, ModNone},
	{"4~", KeyEnd, ModNone},
	{"5~", KeyPageUp, ModNone},
	{"6~", KeyPageDown, ModNone},
	{"7~", KeyHome, ModNone},
	{"8~", KeyEnd, ModNone},

	{"11~", KeyF1, ModNone},
	{"12~", KeyF2, ModNone},
	{"13~", KeyF3, ModNone},
	{"14~", KeyF4, ModNone},
	{"15~", KeyF5, ModNone},
	{"17~", KeyF6, ModNone},
	{"18~", KeyF7, ModNone},
	{"19~", KeyF8, ModNone},
	{"20~", KeyF9, ModNone},
	{"21~", KeyF10, ModNone},
	{"23~", KeyF11, ModNone},
	{"24~", KeyF12, ModNone},
}

// SS3 sequences (ESC O ...)
var ss3Sequences = []escapeSequence{
	{"A", KeyUp, ModNone},
	{"B", KeyDown, ModNone},
	{"C", KeyRight, ModNone},
	{"D", KeyLeft, ModNone},
	{"H", KeyHome, ModNone},
	{"F", KeyEnd, ModNone},
	{"M", KeyEnter, ModNone}, // keypad enter
	{"P", KeyF1, ModNone},
	{"Q", KeyF2, ModNone},
	{"R", KeyF3, ModNone},
	{"S", KeyF4, ModNone},
}

var (
	csiMap = buildSequenceMap(csiSequences)
	ss3Map = buildSequenceMap(ss3Sequences)
)

func buildSequenceMap(seqs []escapeSequence) map[string]escapeSequence {
	m := make(map[string]escapeSequence, len(seqs))
	for _, s := range seqs {
		m[s.seq] = s
	}
	return m
}

// lookupCSI does not allocate: string([]byte) inside a map index is optimized away
func lookupCSI(seq []byte) (Key, Modifier, bool) {
	if s, ok := csiMap[string(seq)]; ok {
		return s.key, s.mod, true
	}
	return KeyNone, ModNone, false
}

func lookupSS3(seq []byte) (Key, Modifier, bool) {
	if s, ok := ss3Map[string(seq)]; ok {
		return s.key, s.mod, true
	}
	return KeyNone, ModNone, false
}
