// Package s2s defines the Provider interface for realtime speech-to-speech
// backends.
//
// An S2S provider wraps a voice model that accepts streamed microphone audio
// and answers with synthesised speech in a single, stateful session. The
// central abstraction is [SessionHandle]: a bidirectional link that carries
// audio up and a stream of typed [Event] values down (audio fragments, tool
// call requests, interruption notices, transcripts and the terminal close or
// error).
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/sharon/pkg/audio"
)

// Sentinel errors shared by every transport.
var (
	// ErrSessionClosed is returned by send operations after the session ended.
	ErrSessionClosed = errors.New("s2s: session closed")

	// ErrBackpressure is returned by SendAudio when the outbound queue
	// is full. The message is dropped; the session stays usable.
	ErrBackpressure = errors.New("s2s: outbound queue full")
)

// ToolDefinition describes one function the model may call.
type ToolDefinition struct {
	// Name is the function name the model uses to call it.
	Name string

	// Description tells the model when to call the function.
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its response. It is unique per session.
	ID string

	// Name is the function to invoke.
	Name string

	// Args holds the decoded JSON arguments.
	Args map[string]any
}

// ToolResponse answers one [ToolCall].
type ToolResponse struct {
	// ID must echo the ID of the call being answered.
	ID string

	// Name must echo the name of the call being answered.
	Name string

	// Response is the JSON-serialisable result.
	Response map[string]any
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice is the prebuilt voice name for synthesised speech (e.g. "Kore").
	Voice string

	// Instructions is the system instruction that shapes the persona.
	Instructions string

	// Tools is the set of functions offered to the model.
	Tools []ToolDefinition

	// InputSampleRate is the rate of audio sent with SendAudio.
	InputSampleRate int

	// Transcription asks the provider to also stream text transcripts of both
	// sides of the conversation.
	Transcription bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// MaxSessionDuration is the hard limit imposed by the service. Zero means
	// no documented limit.
	MaxSessionDuration time.Duration

	// InputSampleRate is the rate the service expects for uplink audio.
	InputSampleRate int

	// OutputSampleRate is the rate of audio the service returns.
	OutputSampleRate int

	// Voices lists the prebuilt voices the provider offers.
	Voices []string
}

// SessionHandle represents an open S2S session.
//
// Send methods never block: messages are queued to a single writer so that
// the wire order matches the call order for each kind of message. Events arrive on one channel in the
// order the remote side produced them. After a terminal [ClosedEvent] or
// [ErrorEvent] the channel is closed. A local Close also closes the channel,
// without emitting a terminal event.
type SessionHandle interface {
	// SendAudio queues one encoded audio packet for the model.
	SendAudio(p audio.Packet) error

	// SendToolResponse queues answers to one or more tool calls. It never
	// reports [ErrBackpressure]: answers are not dropped while the session
	// is open.
	SendToolResponse(responses ...ToolResponse) error

	// Events returns the inbound event stream. The same channel is returned
	// on every call.
	Events() <-chan Event

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a session and returns once the remote side acknowledged
	// the setup. Cancelling ctx aborts a pending connect; it does not affect
	// an established session.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
