package hotkey

import (
	"sync"
	"time"

	"go.aimuz.me/speechtide/internal/types"
)

// DefaultHoldThreshold separates a tap from a hold.
const DefaultHoldThreshold = 100 * time.Millisecond

// Event is a raw key transition from the system-wide listener.
type Event struct {
	Code    uint16
	Pressed bool // false for release
	Time    time.Time
}

type keyState int

const (
	stateReleased keyState = iota
	statePressedPending
)

// Classifier turns raw press/release events for the configured trigger key
// into activate/deactivate signals.
//
// Click mode emits activate on every press and nothing on release.
// Hold mode emits nothing on press; on release it emits deactivate if the
// key was held for at least the threshold, otherwise activate (a tap).
// Events for other keys are ignored. Handle never blocks.
type Classifier struct {
	mu        sync.Mutex
	key       uint16
	mode      types.InteractionMode
	threshold time.Duration

	state     keyState
	pressedAt time.Time
}

// NewClassifier creates a classifier for the given trigger key.
func NewClassifier(key uint16, mode types.InteractionMode, threshold time.Duration) *Classifier {
	c := &Classifier{}
	c.Reconfigure(key, mode, threshold)
	return c
}

// Reconfigure changes the trigger key, mode and threshold, resetting any
// press in progress.
func (c *Classifier) Reconfigure(key uint16, mode types.InteractionMode, threshold time.Duration) {
	if !mode.Valid() {
		mode = types.ModeClick
	}
	if threshold <= 0 {
		threshold = DefaultHoldThreshold
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.mode = mode
	c.threshold = threshold
	c.state = stateReleased
	c.pressedAt = time.Time{}
}

// Mode returns the current interaction mode.
func (c *Classifier) Mode() types.InteractionMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Handle classifies one raw event. ok is false when no signal is emitted.
func (c *Classifier) Handle(ev Event) (sig types.Signal, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Code != c.key {
		return 0, false
	}

	if ev.Pressed {
		// Auto-repeat delivers further presses while the key is down.
		if c.state == statePressedPending {
			return 0, false
		}
		c.state = statePressedPending
		c.pressedAt = ev.Time
		if c.mode == types.ModeClick {
			return types.SignalActivate, true
		}
		return 0, false
	}

	if c.state != statePressedPending {
		return 0, false
	}
	held := ev.Time.Sub(c.pressedAt)
	c.state = stateReleased
	c.pressedAt = time.Time{}

	if c.mode != types.ModeHold {
		return 0, false
	}
	if held >= c.threshold {
		return types.SignalDeactivate, true
	}
	return types.SignalActivate, true
}
