package types

import "errors"

// Failure taxonomy shared by every pipeline component. Components wrap these
// sentinels so the controller can classify a failure with errors.Is.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrService           = errors.New("transcription service error")
	ErrTimeout           = errors.New("timed out")
	ErrProtocol          = errors.New("streaming protocol error")
)

// ErrorKind is the user-facing category of a failure.
type ErrorKind string

const (
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	KindService           ErrorKind = "service_error"
	KindTimeout           ErrorKind = "timeout"
	KindProtocol          ErrorKind = "protocol_error"
	KindUnknown           ErrorKind = "unknown"
)

// Classify returns the taxonomy category of err.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrService):
		return KindService
	default:
		return KindUnknown
	}
}

// Fatal reports whether a failure of this kind disables a subsystem until
// the user intervenes.
func (k ErrorKind) Fatal() bool {
	return k == KindPermissionDenied || k == KindDeviceUnavailable
}
