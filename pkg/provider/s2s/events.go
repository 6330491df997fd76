package s2s

import "time"

// EventKind identifies the concrete type of an [Event].
type EventKind int

const (
	EventAudio EventKind = iota
	EventToolCall
	EventInterrupted
	EventTranscript
	EventTurnComplete
	EventGoAway
	EventClosed
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventToolCall:
		return "tool_call"
	case EventInterrupted:
		return "interrupted"
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventGoAway:
		return "go_away"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message from the remote side of a session. The set of
// implementations is closed; switch on the concrete type.
type Event interface {
	Kind() EventKind
	isEvent()
}

// AudioEvent carries one fragment of synthesised speech as raw 16-bit
// little-endian PCM.
type AudioEvent struct {
	Data     []byte
	MIMEType string
}

// ToolCallEvent carries one or more function calls requested by the model.
type ToolCallEvent struct {
	Calls []ToolCall
}

// InterruptedEvent reports that the user started speaking over the model.
// Queued playback should be cancelled.
type InterruptedEvent struct{}

// Transcript roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// TranscriptEvent carries a piece of transcribed text.
type TranscriptEvent struct {
	Role string
	Text string
}

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

// GoAwayEvent warns that the service will close the session soon.
type GoAwayEvent struct {
	TimeLeft time.Duration
}

// ClosedEvent is terminal: the remote side closed the session.
type ClosedEvent struct {
	Reason string
}

// ErrorEvent is terminal: the session failed.
type ErrorEvent struct {
	Err error
}

func (AudioEvent) Kind() EventKind        { return EventAudio }
func (ToolCallEvent) Kind() EventKind     { return EventToolCall }
func (InterruptedEvent) Kind() EventKind  { return EventInterrupted }
func (TranscriptEvent) Kind() EventKind   { return EventTranscript }
func (TurnCompleteEvent) Kind() EventKind { return EventTurnComplete }
func (GoAwayEvent) Kind() EventKind       { return EventGoAway }
func (ClosedEvent) Kind() EventKind       { return EventClosed }
func (ErrorEvent) Kind() EventKind        { return EventError }

func (AudioEvent) isEvent()        {}
func (ToolCallEvent) isEvent()     {}
func (InterruptedEvent) isEvent()  {}
func (TranscriptEvent) isEvent()   {}
func (TurnCompleteEvent) isEvent() {}
func (GoAwayEvent) isEvent()       {}
func (ClosedEvent) isEvent()       {}
func (ErrorEvent) isEvent()        {}

// Terminal reports whether ev ends the session.
func Terminal(ev Event) bool {
	k := ev.Kind()
	return k == EventClosed || k == EventError
}
