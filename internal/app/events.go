package app

import (
	"go.aimuz.me/speechtide/audiocapture"
	"go.aimuz.me/speechtide/internal/types"
)

// eventQueueSize bounds the controller inbox.
const eventQueueSize = 64

// event is a message consumed by the controller loop. Events produced by
// asynchronous work carry the generation they were started under; the loop
// drops any whose generation is no longer current.
type event interface {
	eventName() string
}

// ─────────────────────────────────────────────────────────────────────────────
// Requests
// ─────────────────────────────────────────────────────────────────────────────

type signalEvent struct{ sig types.Signal }

type startRequest struct{}

type stopRequest struct{}

type cancelRequest struct{}

type recoverRequest struct{}

type failEvent struct{ err error }

// ─────────────────────────────────────────────────────────────────────────────
// Results
// ─────────────────────────────────────────────────────────────────────────────

type batchResult struct {
	gen  uint64
	rec  *audiocapture.Recording
	text string
	err  error
}

type streamTranscript struct {
	gen uint64
	ev  types.TranscriptEvent
}

type streamError struct {
	gen uint64
	err error
}

type drainDone struct {
	gen uint64
	err error
}

type maxDurationReached struct{ gen uint64 }

func (signalEvent) eventName() string        { return "signal" }
func (startRequest) eventName() string       { return "start" }
func (stopRequest) eventName() string        { return "stop" }
func (cancelRequest) eventName() string      { return "cancel" }
func (recoverRequest) eventName() string     { return "recover" }
func (failEvent) eventName() string          { return "fail" }
func (batchResult) eventName() string        { return "batch_result" }
func (streamTranscript) eventName() string   { return "stream_transcript" }
func (streamError) eventName() string        { return "stream_error" }
func (drainDone) eventName() string          { return "drain_done" }
func (maxDurationReached) eventName() string { return "max_duration" }
