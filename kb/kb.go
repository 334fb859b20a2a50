// Package kb is a pure, deterministic compiler from logical keystrokes —
// a character or named special key, a modifier bitmask, and an event
// shape — to the ordered sequence of CDP Input.dispatchKeyEvent payloads
// needed to reproduce that keystroke. It has no dependency on a live
// connection; Compile and CompileSequence are plain functions.
package kb

import (
	"fmt"
	"strings"
	"unicode"
)

// Modifiers is a bitmask of keyboard modifiers, matching CDP's own
// Input.dispatchKeyEvent modifiers encoding bit for bit.
type Modifiers int

const (
	ModDefault Modifiers = 0
	ModAlt     Modifiers = 1
	ModCtrl    Modifiers = 2
	ModMeta    Modifiers = 4
	ModShift   Modifiers = 8
)

// PressEvent is the shape of a requested key event.
type PressEvent string

const (
	// KeyDown, RawKeyDown, and KeyUp are not valid on their own as a
	// CompileSequence input shape -- only Char and DownAndUp are.
	KeyDown    PressEvent = "keyDown"
	KeyUp      PressEvent = "keyUp"
	RawKeyDown PressEvent = "rawKeyDown"

	// Char sends a single ASCII (or emoji) character directly; it
	// cannot express non-printable keys or modifier combinations.
	Char PressEvent = "char"

	// DownAndUp emits a full keyDown/keyUp pair (with any modifier
	// keyDown/keyUp events around it), suitable for anything Char can't
	// express.
	DownAndUp PressEvent = "downAndUp"
)

// SpecialKey names a non-character key.
type SpecialKey string

const (
	Space      SpecialKey = "Space"
	Enter      SpecialKey = "Enter"
	Tab        SpecialKey = "Tab"
	Backspace  SpecialKey = "Backspace"
	Escape     SpecialKey = "Escape"
	Delete     SpecialKey = "Delete"
	ArrowLeft  SpecialKey = "ArrowLeft"
	ArrowUp    SpecialKey = "ArrowUp"
	ArrowRight SpecialKey = "ArrowRight"
	ArrowDown  SpecialKey = "ArrowDown"

	// shiftKey, altKey, ctrlKey, and metaKey are for internal use only,
	// synthesized while decomposing a modifier bitmask into individual
	// key down/up events; they are not valid Event.Special values.
	shiftKey SpecialKey = "__shift"
	altKey   SpecialKey = "__alt"
	ctrlKey  SpecialKey = "__ctrl"
	metaKey  SpecialKey = "__meta"
)

type specialKeyInfo struct {
	name string
	code int
}

var specialKeyTable = map[SpecialKey]specialKeyInfo{
	Space:      {" ", 32},
	Enter:      {"Enter", 13},
	Tab:        {"Tab", 9},
	Backspace:  {"Backspace", 8},
	Escape:     {"Escape", 27},
	Delete:     {"Delete", 46},
	ArrowLeft:  {"ArrowLeft", 37},
	ArrowUp:    {"ArrowUp", 38},
	ArrowRight: {"ArrowRight", 39},
	ArrowDown:  {"ArrowDown", 40},
	shiftKey:   {"Shift", 16},
	altKey:     {"Alt", 18},
	ctrlKey:    {"Control", 17},
	metaKey:    {"Meta", 91},
}

// modifierDecomposition lists the special keys considered modifiers, in the exact
// order the original implementation's _decompose_modifiers emits them:
// Alt, Ctrl, Meta, Shift.
var modifierDecomposition = []struct {
	key  SpecialKey
	flag Modifiers
}{
	{altKey, ModAlt},
	{ctrlKey, ModCtrl},
	{metaKey, ModMeta},
	{shiftKey, ModShift},
}

const numShift = ")!@#$%^&*("

var specialCharMap = map[rune]specialKeyInfo{
	';':  {"Semicolon", 186},
	'=':  {"Equal", 187},
	',':  {"Comma", 188},
	'-':  {"Minus", 189},
	'.':  {"Period", 190},
	'/':  {"Slash", 191},
	'`':  {"Backquote", 192},
	'[':  {"BracketLeft", 219},
	'\\': {"Backslash", 220},
	']':  {"BracketRight", 221},
	'\'': {"Quote", 222},
}

// specialCharShiftMap maps a shifted symbol to the unshifted key it is
// the Shift-variant of, on a US keyboard layout. "+": '=' is intentional:
// '+' is the shifted form of '=', not a typo.
var specialCharShiftMap = map[rune]rune{
	':': ';',
	'+': '=',
	'<': ',',
	'_': '-',
	'>': '.',
	'?': '/',
	'~': '`',
	'{': '[',
	'|': '\\',
	'}': ']',
	'"': '\'',
}

// Event is one logical keystroke: either a single character (Char field
// set, Special empty) or a named special key, with a modifier bitmask
// and a requested event shape.
type Event struct {
	Char      rune
	Special   SpecialKey
	Modifiers Modifiers
	Shape     PressEvent
}

// Payload is one CDP Input.dispatchKeyEvent (or char-event) argument set.
type Payload struct {
	Type                  string
	Modifiers             Modifiers
	Text                  string
	Key                   string
	Code                  string
	WindowsVirtualKeyCode int64
	NativeVirtualKeyCode  int64
}

// keyValue is the sum type mirroring the original's Union[str, SpecialKeys].
type keyValue struct {
	isSpecial bool
	ch        rune
	special   SpecialKey
}

func charValue(r rune) keyValue       { return keyValue{ch: r} }
func specialValue(s SpecialKey) keyValue { return keyValue{isSpecial: true, special: s} }

func (k keyValue) String() string {
	if k.isSpecial {
		return string(k.special)
	}
	return string(k.ch)
}

// keyEvents mirrors the original's KeyEvents class: one logical key,
// resolved to its CDP code/keyCode at construction time.
type keyEvents struct {
	key     keyValue
	code    string
	keyCode int
}

func newKeyEvents(key keyValue) (*keyEvents, error) {
	var code string
	var keyCode int
	var err error
	if key.isSpecial {
		code, keyCode = handleSpecialKeyLookup(key.special)
	} else {
		code, keyCode, err = handleStringKeyLookup(key.ch)
	}
	if err != nil {
		return nil, err
	}
	return &keyEvents{key: key, code: code, keyCode: keyCode}, nil
}

func handleStringKeyLookup(r rune) (string, int, error) {
	switch {
	case unicode.IsLetter(r):
		upper := unicode.ToUpper(r)
		return "Key" + string(upper), int(upper), nil
	case unicode.IsDigit(r) || strings.ContainsRune(numShift, r):
		digit := r
		if idx := strings.IndexRune(numShift, r); idx >= 0 {
			digit = rune('0' + idx)
		}
		return "Digit" + string(digit), int(digit), nil
	case r == '\n' || r == '\r':
		info := specialKeyTable[Enter]
		return info.name, info.code, nil
	case r == '\t':
		info := specialKeyTable[Tab]
		return info.name, info.code, nil
	default:
		if info, ok := specialCharMap[r]; ok {
			return info.name, info.code, nil
		}
		if unshifted, ok := specialCharShiftMap[r]; ok {
			info := specialCharMap[unshifted]
			return info.name, info.code, nil
		}
	}
	return "", 0, fmt.Errorf("kb: unsupported key %q", r)
}

func handleSpecialKeyLookup(key SpecialKey) (string, int) {
	for _, m := range modifierDecomposition {
		if m.key == key {
			info := specialKeyTable[key]
			return info.name + "Left", info.code
		}
	}
	info := specialKeyTable[key]
	return info.name, info.code
}

// normaliseKey converts a shifted key to its unshifted equivalent plus
// the Shift modifier, mirroring _normalise_key exactly.
func normaliseKey(key keyValue, mods Modifiers) (keyValue, Modifiers, error) {
	if key.isSpecial {
		return key, mods, nil
	}
	r := key.ch

	var lowercase rune
	hasLowercase := false

	switch {
	case strings.ContainsRune(numShift, r):
		mods |= ModShift
		idx := strings.IndexRune(numShift, r)
		lowercase, hasLowercase = rune('0'+idx), true
	case func() bool { _, ok := specialCharShiftMap[r]; return ok }():
		mods |= ModShift
		lowercase, hasLowercase = specialCharShiftMap[r], true
	case unicode.IsUpper(r) && unicode.IsLetter(r):
		mods |= ModShift
		lowercase, hasLowercase = unicode.ToLower(r), true
	case r == '\n' || r == '\r':
		return specialValue(Enter), mods, nil
	case r == '\t':
		return specialValue(Tab), mods, nil
	case r == ' ':
		return specialValue(Space), mods, nil
	}

	if mods != ModShift && hasLowercase {
		return keyValue{}, 0, fmt.Errorf("kb: key %q is not supported with modifiers %d", r, mods)
	}

	if !hasLowercase {
		return key, mods, nil
	}
	mods |= ModShift
	return charValue(lowercase), mods, nil
}

func convToString(s SpecialKey) (string, error) {
	switch s {
	case Space:
		return " ", nil
	case Enter:
		return "\n", nil
	case Tab:
		return "\t", nil
	}
	return "", fmt.Errorf("kb: cannot convert %s to a string; only Space, Enter, and Tab are supported", s)
}

func (k *keyEvents) getKeyAndText(shape PressEvent, mods Modifiers) (string, string, error) {
	if shape == Char {
		if k.key.isSpecial {
			s, err := convToString(k.key.special)
			if err != nil {
				return "", "", err
			}
			return s, s, nil
		}
		s := string(k.key.ch)
		return s, s, nil
	}
	return k.buildActionData(mods)
}

var specialKeyCharMap = map[SpecialKey]string{
	Space: " ",
	Enter: "\n",
	Tab:   "\t",
}

func (k *keyEvents) buildActionData(mods Modifiers) (string, string, error) {
	if !k.key.isSpecial {
		return k.handlePrintableChar(k.key.ch, mods)
	}
	if ch, ok := specialKeyCharMap[k.key.special]; ok {
		return ch, ch, nil
	}
	return specialKeyTable[k.key.special].name, "", nil
}

func (k *keyEvents) handlePrintableChar(r rune, mods Modifiers) (string, string, error) {
	if mods != ModShift {
		s := string(r)
		return s, s, nil
	}
	var shifted rune
	switch {
	case unicode.IsLetter(r):
		shifted = unicode.ToUpper(r)
	case unicode.IsDigit(r):
		shifted = rune(numShift[r-'0'])
	default:
		shifted = r
		for shiftChar, orig := range specialCharShiftMap {
			if orig == r {
				shifted = shiftChar
				break
			}
		}
	}
	s := string(shifted)
	return s, s, nil
}

func (k *keyEvents) toBasicEvent(shape PressEvent, mods Modifiers) (Payload, error) {
	key, text, err := k.getKeyAndText(shape, mods)
	if err != nil {
		return Payload{}, err
	}
	if shape == Char {
		if text == "" {
			return Payload{}, fmt.Errorf("kb: key %v is not supported for the char event type", k.key)
		}
		return Payload{Type: string(shape), Modifiers: mods, Text: text}, nil
	}
	return Payload{
		Type:                  string(shape),
		Modifiers:             mods,
		Text:                  text,
		Key:                   key,
		Code:                  k.code,
		WindowsVirtualKeyCode: int64(k.keyCode),
		NativeVirtualKeyCode:  int64(k.keyCode),
	}, nil
}

// decomposeModifiers extracts individual modifier keys from mods, in
// Alt, Ctrl, Meta, Shift order.
func decomposeModifiers(mods Modifiers) ([]struct {
	key  SpecialKey
	flag Modifiers
}, error) {
	if mods == ModDefault {
		return nil, nil
	}
	var out []struct {
		key  SpecialKey
		flag Modifiers
	}
	for _, m := range modifierDecomposition {
		if mods&m.flag != 0 {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("kb: no valid modifier keys found in %d", mods)
	}
	return out, nil
}

func (k *keyEvents) toDownUpSequence(mods Modifiers) ([]Payload, error) {
	decomposed, err := decomposeModifiers(mods)
	if err != nil {
		return nil, err
	}

	type modEvt struct {
		ke   *keyEvents
		flag Modifiers
	}
	modEvents := make([]modEvt, 0, len(decomposed))
	isModifierKey := false
	for _, m := range decomposed {
		mk, err := newKeyEvents(specialValue(m.key))
		if err != nil {
			return nil, err
		}
		modEvents = append(modEvents, modEvt{mk, m.flag})
		if mk.key == k.key {
			isModifierKey = true
		}
	}

	var events []Payload
	var current Modifiers

	for _, m := range modEvents {
		current |= m.flag
		p, err := m.ke.toBasicEvent(KeyDown, current)
		if err != nil {
			return nil, err
		}
		events = append(events, p)
	}

	if !isModifierKey {
		p, err := k.toBasicEvent(KeyDown, current)
		if err != nil {
			return nil, err
		}
		events = append(events, p)
	}

	for _, m := range modEvents {
		current &^= m.flag
		p, err := m.ke.toBasicEvent(KeyUp, current)
		if err != nil {
			return nil, err
		}
		events = append(events, p)
	}

	if !isModifierKey {
		p, err := k.toBasicEvent(KeyUp, current)
		if err != nil {
			return nil, err
		}
		events = append(events, p)
	}

	return events, nil
}

// isEmoji reports whether r falls in one of the common emoji code point
// ranges. There is no third-party emoji classification library anywhere
// in the reference pack (this is a narrow, rarely-needed classification
// with no ecosystem-standard Go package), so this is a deliberate
// stdlib-only judgment call -- see DESIGN.md.
func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
		return true
	case r == 0x200D || r == 0xFE0F: // ZWJ, variation selector
		return true
	}
	return false
}

// compile compiles a single Event to its CDP payload sequence, mirroring
// to_cdp_events.
func compile(ev Event) ([]Payload, error) {
	var key keyValue
	if ev.Special != "" {
		key = specialValue(ev.Special)
	} else {
		key = charValue(ev.Char)
	}

	shape := ev.Shape
	if !key.isSpecial && isEmoji(key.ch) {
		shape = Char
	}

	switch shape {
	case KeyDown, RawKeyDown, KeyUp:
		return nil, fmt.Errorf("kb: %s is not supported by itself; use Char or DownAndUp", shape)
	case Char:
		if key.isSpecial {
			s, err := convToString(key.special)
			if err != nil {
				return nil, fmt.Errorf("kb: %w; char event type only supports single characters", err)
			}
			if len([]rune(s)) != 1 {
				return nil, fmt.Errorf("kb: char event type only supports single characters")
			}
		}
		// A char event carries only Text, never Code/KeyCode (see
		// toBasicEvent), so there's no need to run an emoji (or any
		// other) rune through newKeyEvents's code/keyCode lookup table
		// here -- doing so unconditionally used to make Compile fail on
		// every emoji, since handleStringKeyLookup has no entry for one.
		ke := &keyEvents{key: key}
		p, err := ke.toBasicEvent(Char, ev.Modifiers)
		if err != nil {
			return nil, err
		}
		return []Payload{p}, nil
	case DownAndUp:
		normKey, mods, err := normaliseKey(key, ev.Modifiers)
		if err != nil {
			return nil, err
		}
		normKE, err := newKeyEvents(normKey)
		if err != nil {
			return nil, err
		}
		return normKE.toDownUpSequence(mods)
	default:
		return nil, fmt.Errorf("kb: unsupported key press event type: %s", shape)
	}
}

// Compile compiles a single logical keystroke into its ordered CDP
// payload sequence.
func Compile(ev Event) ([]Payload, error) {
	return compile(ev)
}

// CompileSequence compiles a sequence of logical keystrokes, in order,
// concatenating each keystroke's own payload sequence.
func CompileSequence(events []Event) ([]Payload, error) {
	var out []Payload
	for i, ev := range events {
		payloads, err := compile(ev)
		if err != nil {
			return nil, fmt.Errorf("kb: compiling event %d: %w", i, err)
		}
		out = append(out, payloads...)
	}
	return out, nil
}
