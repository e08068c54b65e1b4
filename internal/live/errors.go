package live

import (
	"errors"

	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/audio/playback"
)

// ErrAlreadyActive is returned by [Controller.Start] outside [StateIdle].
var ErrAlreadyActive = errors.New("live: a session is already active")

// ErrStopped is returned by [Controller.Start] when Stop was called before
// the session finished connecting.
var ErrStopped = errors.New("live: session stopped while connecting")

// ErrPermission matches every [PermissionError] via [errors.Is].
var ErrPermission = audio.ErrPermission

// PermissionError reports that the microphone could not be acquired. The
// remote session is never opened.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string { return "live: microphone: " + e.Err.Error() }

func (e *PermissionError) Unwrap() error { return e.Err }

// Is reports a match for [ErrPermission] regardless of the device error.
func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// TransportError reports a failure of the remote session, either while
// connecting or mid-flight. It always triggers a full teardown.
type TransportError struct {
	// Op is the failed operation, e.g. "connect" or "receive".
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "live: " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a malformed inbound audio payload. The payload is dropped
// and the session continues.
type DecodeError = playback.DecodeError

// ProtocolAnomaly is an unexpected or missing field in an event. It is
// logged at debug level and otherwise ignored.
type ProtocolAnomaly struct {
	Detail string
}

func (e *ProtocolAnomaly) Error() string { return "live: protocol anomaly: " + e.Detail }

// StatusFor maps an error to the short status shown to the user. Internal
// details only reach the logs.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusIdle
	case errors.Is(err, ErrPermission):
		return StatusNoMic
	default:
		return StatusError
	}
}
