// Package genailive implements the s2s.Provider interface on top of the
// official Google Gen AI SDK's Live API. It supports both the Gemini API
// (API key) and Vertex AI (project credentials) backends.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	// DefaultModel is the native-audio Live model used when none is configured.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the service base URL. A ws:// or wss:// scheme is
// used as is; anything else is dialled over wss.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithVertexAI switches to the Vertex AI backend for project in location.
// Credentials are resolved from the environment.
func WithVertexAI(project, location string) Option {
	return func(p *Provider) {
		p.backend = genai.BackendVertexAI
		p.project = project
		p.location = location
	}
}

// WithSendQueue sets the depth of the outbound message queue.
func WithSendQueue(n int) Option {
	return func(p *Provider) { p.sendQueue = n }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider with the Gen AI SDK.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	backend   genai.Backend
	project   string
	location  string
	sendQueue int
}

// New creates a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		backend:   genai.BackendGeminiAPI,
		sendQueue: s2s.DefaultOutboxSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Live API.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		MaxSessionDuration: 15 * time.Minute,
		InputSampleRate:    audio.DefaultInputRate,
		OutputSampleRate:   audio.DefaultOutputRate,
		Voices:             []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

func (p *Provider) clientConfig() *genai.ClientConfig {
	cc := &genai.ClientConfig{Backend: p.backend}
	if p.backend == genai.BackendVertexAI {
		cc.Project = p.project
		cc.Location = p.location
	} else {
		cc.APIKey = p.apiKey
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	return cc
}

// Connect opens a Live session and waits for the setup acknowledgement.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	client, err := genai.NewClient(ctx, p.clientConfig())
	if err != nil {
		return nil, fmt.Errorf("genailive: new client: %w", err)
	}

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	live, err := client.Live.Connect(ctx, model, liveConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", err)
	}

	// Receive has no context; abandon the wait by closing the connection.
	setup := make(chan error, 1)
	go func() {
		msg, err := live.Receive()
		switch {
		case err != nil:
			setup <- err
		case msg.SetupComplete == nil:
			setup <- errors.New("first server message is not setupComplete")
		default:
			setup <- nil
		}
	}()
	select {
	case err := <-setup:
		if err != nil {
			_ = live.Close()
			return nil, fmt.Errorf("genailive: setup: %w", err)
		}
	case <-ctx.Done():
		_ = live.Close()
		return nil, fmt.Errorf("genailive: setup: %w", ctx.Err())
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		live:   live,
		outbox: s2s.NewOutbox[func(*genai.Session) error](p.sendQueue),
		events: make(chan s2s.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}
	go s.writeLoop()
	go s.receiveLoop()
	return s, nil
}

// liveConfig translates a session config into the SDK connect config.
func liveConfig(cfg s2s.SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if cfg.Transcription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// translate converts one server message into events, in wire order: tool
// calls, audio and text parts, interruption, transcripts, turn completion and
// go-away.
func translate(msg *genai.LiveServerMessage) []s2s.Event {
	var evs []s2s.Event
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		calls := make([]s2s.ToolCall, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, s2s.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		evs = append(evs, s2s.ToolCallEvent{Calls: calls})
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil {
					continue
				}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					evs = append(evs, s2s.AudioEvent{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
				}
				if p.Text != "" && !p.Thought {
					evs = append(evs, s2s.TranscriptEvent{Role: s2s.RoleModel, Text: p.Text})
				}
			}
		}
		if sc.Interrupted {
			evs = append(evs, s2s.InterruptedEvent{})
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			evs = append(evs, s2s.TranscriptEvent{Role: s2s.RoleUser, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			evs = append(evs, s2s.TranscriptEvent{Role: s2s.RoleModel, Text: sc.OutputTranscription.Text})
		}
		if sc.TurnComplete {
			evs = append(evs, s2s.TurnCompleteEvent{})
		}
	}
	if msg.GoAway != nil {
		evs = append(evs, s2s.GoAwayEvent{TimeLeft: msg.GoAway.TimeLeft})
	}
	return evs
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	live   *genai.Session
	outbox *s2s.Outbox[func(*genai.Session) error]
	events chan s2s.Event

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) writeLoop() {
	err := s.outbox.Run(s.ctx, func(_ context.Context, send func(*genai.Session) error) error {
		return send(s.live)
	})
	if err != nil && s.ctx.Err() == nil {
		slog.Warn("genailive: write failed, closing session", "err", err)
		_ = s.live.Close()
	}
}

// receiveLoop owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)
	for {
		msg, err := s.live.Receive()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.emit(terminalEvent(err))
			return
		}
		for _, ev := range translate(msg) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

func terminalEvent(err error) s2s.Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
		reason := ce.Text
		if reason == "" {
			reason = "normal closure"
		}
		return s2s.ClosedEvent{Reason: reason}
	}
	return s2s.ErrorEvent{Err: fmt.Errorf("genailive: receive: %w", err)}
}

func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// SendAudio queues one PCM packet as realtime input.
func (s *session) SendAudio(p audio.Packet) error {
	raw, err := p.Bytes()
	if err != nil {
		return err
	}
	return s.outbox.Push(func(live *genai.Session) error {
		return live.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{MIMEType: p.MIMEType, Data: raw},
		})
	})
}

// SendToolResponse queues function responses correlated by call ID on the
// control lane, so a stalled audio uplink never drops them.
func (s *session) SendToolResponse(responses ...s2s.ToolResponse) error {
	if len(responses) == 0 {
		return nil
	}
	frs := make([]*genai.FunctionResponse, len(responses))
	for i, r := range responses {
		frs[i] = &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response}
	}
	return s.outbox.PushControl(func(live *genai.Session) error {
		return live.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: frs})
	})
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.outbox.Close()
	s.cancel()
	_ = s.live.Close()
	return nil
}
