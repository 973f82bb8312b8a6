package keymap

import "fmt"

// Modifier key codes from linux/input-event-codes.h.
const (
	KeyLeftCtrl   = 29
	KeyLeftShift  = 42
	KeyRightShift = 54
	KeyLeftAlt    = 56
	KeyRightCtrl  = 97
	KeyRightAlt   = 100
	KeyLeftMeta   = 125
	KeyRightMeta  = 126
)

// IsModifier reports whether the key code is a modifier. Modifier
// presses are held alongside pointer use and do not count as typing.
func IsModifier(code uint16) bool {
	switch code {
	case KeyLeftCtrl, KeyLeftShift, KeyRightShift, KeyLeftAlt,
		KeyRightCtrl, KeyRightAlt, KeyLeftMeta, KeyRightMeta:
		return true
	}
	return false
}

// keyNames covers the codes that show up in journals and status
// output. Everything else falls through to a numeric form.
var keyNames = map[uint16]string{
	1:   "esc",
	14:  "backspace",
	15:  "tab",
	28:  "enter",
	29:  "leftctrl",
	42:  "leftshift",
	54:  "rightshift",
	56:  "leftalt",
	57:  "space",
	58:  "capslock",
	97:  "rightctrl",
	100: "rightalt",
	102: "home",
	103: "up",
	105: "left",
	106: "right",
	107: "end",
	108: "down",
	125: "leftmeta",
	126: "rightmeta",
	272: "btn_left",
	273: "btn_right",
	274: "btn_middle",
	275: "btn_side",
	276: "btn_extra",
}

// KeyName returns a readable name for a key or button code.
func KeyName(code uint16) string {
	if name, ok := keyNames[code]; ok {
		return name
	}
	return fmt.Sprintf("key-%d", code)
}
