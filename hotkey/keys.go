package hotkey

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	hook "github.com/robotn/gohook"
)

// ErrUnknownKey is returned when a trigger key name cannot be mapped.
var ErrUnknownKey = errors.New("unknown key")

// Virtual key codes reported by the hook library (libuiohook VC_* values).
// They are platform independent, unlike raw codes.
const (
	vcEscape uint16 = 0x0001
	vcTab    uint16 = 0x000F
	vcEnter  uint16 = 0x001C
	vcCtrlL  uint16 = 0x001D
	vcShiftL uint16 = 0x002A
	vcShiftR uint16 = 0x0036
	vcAltL   uint16 = 0x0038
	vcSpace  uint16 = 0x0039
	vcCtrlR  uint16 = 0x0E1D
	vcAltR   uint16 = 0x0E38
	vcMetaL  uint16 = 0x0E5B
	vcMetaR  uint16 = 0x0E5C
)

// namedKeys maps configuration names to key codes. Option and alt are the
// same physical key; cmd is reported as meta.
var namedKeys = map[string]uint16{
	"right_cmd":    vcMetaR,
	"left_cmd":     vcMetaL,
	"right_option": vcAltR,
	"left_option":  vcAltL,
	"right_alt":    vcAltR,
	"left_alt":     vcAltL,
	"right_ctrl":   vcCtrlR,
	"left_ctrl":    vcCtrlL,
	"right_shift":  vcShiftR,
	"left_shift":   vcShiftL,
	"space":        vcSpace,
	"esc":          vcEscape,
	"tab":          vcTab,
	"enter":        vcEnter,
}

// ParseKey resolves a trigger key name to its key code.
// Single letters and digits are looked up in the hook library's table.
func ParseKey(name string) (uint16, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if code, ok := namedKeys[n]; ok {
		return code, nil
	}
	if len([]rune(n)) == 1 {
		if code, ok := hook.Keycode[n]; ok {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// KeyName returns the configuration name for a key code, or "" if the code
// is not a named key.
func KeyName(code uint16) string {
	names := make([]string, 0, 1)
	for name, c := range namedKeys {
		if c == code {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	// Deterministic for aliases (left_alt before left_option).
	slices.Sort(names)
	return names[0]
}

// AvailableKeys returns the named trigger keys, sorted.
func AvailableKeys() []string {
	keys := make([]string, 0, len(namedKeys))
	for name := range namedKeys {
		keys = append(keys, name)
	}
	slices.Sort(keys)
	return keys
}
