// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to script inbound events and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.InterruptedEvent{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, when non-nil, makes Connect wait until it is closed or ctx is
	// done.
	Block chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a snapshot of ConnectCalls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	events    chan s2s.Event
	closeOnce sync.Once
	closed    chan struct{}

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendToolResponseErr, if non-nil, is returned by every SendToolResponse call.
	SendToolResponseErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// OnClose, if set, runs at the start of every Close call.
	OnClose func()

	audio      []audio.Packet
	responses  []s2s.ToolResponse
	closeCalls int
	sent       chan struct{}
}

// NewSession returns a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		closed: make(chan struct{}),
		sent:   make(chan struct{}, 1),
	}
}

// Emit pushes ev onto the event stream. It returns false once the session is
// closed.
func (s *Session) Emit(ev s2s.Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// EndStream closes the event stream without a terminal event, the way a
// transport does after a local Close. Emit must not be called afterwards.
func (s *Session) EndStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.events)
}

// SendAudio records the packet and returns SendAudioErr.
func (s *Session) SendAudio(p audio.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	s.audio = append(s.audio, p)
	s.notify()
	return s.SendAudioErr
}

// SendToolResponse records the responses and returns SendToolResponseErr.
func (s *Session) SendToolResponse(responses ...s2s.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	s.responses = append(s.responses, responses...)
	s.notify()
	return s.SendToolResponseErr
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	if s.OnClose != nil {
		s.OnClose()
	}
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return s.CloseErr
}

// Closed is closed once Close has been called.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Sent receives a value (coalesced) after every recorded send.
func (s *Session) Sent() <-chan struct{} { return s.sent }

// AudioPackets returns a snapshot of every packet sent.
func (s *Session) AudioPackets() []audio.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Packet(nil), s.audio...)
}

// ToolResponses returns a snapshot of every tool response sent.
func (s *Session) ToolResponses() []s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]s2s.ToolResponse(nil), s.responses...)
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) notify() {
	select {
	case s.sent <- struct{}{}:
	default:
	}
}

var _ s2s.SessionHandle = (*Session)(nil)
