//go:build !darwin

package hotkey

// IsAccessibilityEnabled always reports true outside macOS.
func IsAccessibilityEnabled(_ bool) bool {
	return true
}
