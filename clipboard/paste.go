package clipboard

import (
	"fmt"

	"github.com/micmonay/keybd_event"
)

// sendPaste presses the platform paste shortcut.
func sendPaste() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("init keyboard: %w", err)
	}
	setPasteModifier(&kb)
	kb.SetKeys(keybd_event.VK_V)
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("send paste keystroke: %w", err)
	}
	return nil
}
