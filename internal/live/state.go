package live

import "fmt"

// State is the lifecycle state of the [Controller].
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota

	// StateConnecting means the microphone is being acquired or the remote
	// session is being opened.
	StateConnecting

	// StateOpen means the remote session is established and audio flows in
	// both directions.
	StateOpen

	// StateClosing means a user-initiated stop is tearing the session down.
	StateClosing

	// StateError means a transport failure is tearing the session down.
	StateError
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// User-visible status strings.
const (
	StatusIdle       = "Idle. Press Start to talk."
	StatusConnecting = "Connecting to Gemini..."
	StatusConnected  = "Connected. You can start talking now."
	StatusError      = "Error occurred. Please try again."
	StatusClosed     = "Connection closed."
	StatusNoMic      = "Could not access microphone."
)
