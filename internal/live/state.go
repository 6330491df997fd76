package live

import "errors"

// State is the lifecycle state of the live session.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateActive
	StateClosing
	StateClosed
	StateErrored
)

// String returns the lower-case state name used in logs and the HTTP API.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Busy reports whether s owns (or is acquiring) the microphone and output.
func (s State) Busy() bool {
	return s == StateOpening || s == StateActive || s == StateClosing
}

// User-visible status lines.
const (
	StatusReady     = "Mode Spécial prêt"
	StatusOpening   = "Initialisation du lien neuronal..."
	StatusActive    = "Spécial Ops Active - Donnez vos ordres"
	StatusLinkLost  = "Lien interrompu"
	StatusEnded     = "Direct terminé"
	StatusMicDenied = "Microphone inaccessible"
)

var (
	// ErrSessionActive is returned by Start while another session owns the
	// audio devices.
	ErrSessionActive = errors.New("live: session already active")

	// ErrPermissionDenied wraps a refused or missing microphone.
	ErrPermissionDenied = errors.New("live: microphone permission denied")

	// ErrTransport wraps failures reported by the remote connection.
	ErrTransport = errors.New("live: transport error")
)

// Status is one observable snapshot of the controller.
type Status struct {
	State     State
	Text      string
	SessionID string
	Err       error
}
