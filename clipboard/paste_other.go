//go:build !darwin

package clipboard

import "github.com/micmonay/keybd_event"

const pasteShortcut = "Ctrl+V"

func setPasteModifier(kb *keybd_event.KeyBonding) { kb.HasCTRL(true) }
