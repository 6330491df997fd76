package live_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/sharon/internal/live"
	"github.com/MrWong99/sharon/internal/observe"
	"github.com/MrWong99/sharon/internal/tools"
	"github.com/MrWong99/sharon/pkg/audio"
	audiomock "github.com/MrWong99/sharon/pkg/audio/mock"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
	s2smock "github.com/MrWong99/sharon/pkg/provider/s2s/mock"
)

const frameSize = 160

type harness struct {
	ctrl     *live.Controller
	in       *audiomock.Input
	out      *audiomock.Output
	backend  *audiomock.Backend
	provider *s2smock.Provider
	sess     *s2smock.Session
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newHarness(t *testing.T, mutate func(*live.Config)) *harness {
	t.Helper()
	h := &harness{
		in:   &audiomock.Input{Rate: audio.DefaultInputRate},
		out:  &audiomock.Output{Rate: audio.DefaultOutputRate},
		sess: s2smock.NewSession(),
	}
	h.backend = &audiomock.Backend{InputResult: h.in, OutputResult: h.out}
	h.provider = &s2smock.Provider{Session: h.sess}

	cfg := live.Config{
		Provider:  h.provider,
		Backend:   h.backend,
		FrameSize: frameSize,
		Metrics:   newTestMetrics(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := live.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	h.ctrl = ctrl
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.ctrl.State(); got != live.StateActive {
		t.Fatalf("state after Start = %v, want active", got)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// pcm returns n 16-bit little-endian samples of value v.
func pcm(n int, v int16) []byte {
	b := make([]byte, 2*n)
	for i := range n {
		b[2*i] = byte(v)
		b[2*i+1] = byte(uint16(v) >> 8)
	}
	return b
}

func ramp(n int, offset float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = offset
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  live.Config
		want string
	}{
		{"missing provider", live.Config{Backend: &audiomock.Backend{}}, "provider is required"},
		{"missing backend", live.Config{Provider: &s2smock.Provider{}}, "audio backend is required"},
		{
			"bad template",
			live.Config{Provider: &s2smock.Provider{}, Backend: &audiomock.Backend{}, Instructions: "no placeholder"},
			"exactly one %s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := live.New(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestStart_StatusSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	updates, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	h.start(t)

	want := []struct {
		state live.State
		text  string
	}{
		{live.StateIdle, live.StatusReady},
		{live.StateOpening, live.StatusOpening},
		{live.StateActive, live.StatusActive},
	}
	for i, w := range want {
		select {
		case st := <-updates:
			if st.State != w.state || st.Text != w.text {
				t.Errorf("update %d = %v %q, want %v %q", i, st.State, st.Text, w.state, w.text)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing update %d", i)
		}
	}

	st := h.ctrl.Status()
	if st.SessionID == "" {
		t.Error("active status has no session id")
	}
	if !h.in.Started() {
		t.Error("microphone not started")
	}
	calls := h.provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("Connect calls = %d, want 1", len(calls))
	}
	cfg := calls[0].Cfg
	if cfg.Voice != live.DefaultVoice {
		t.Errorf("voice = %q, want %q", cfg.Voice, live.DefaultVoice)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name != tools.ControlDeviceName {
		t.Errorf("tools = %+v, want controlDevice", cfg.Tools)
	}
	if cfg.InputSampleRate != audio.DefaultInputRate {
		t.Errorf("input rate = %d", cfg.InputSampleRate)
	}
}

func TestStart_BehaviorIsUppercasedInInstructions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.ctrl.SetBehavior("sarcastique")
	h.ctrl.SetVoice("Puck")
	h.start(t)

	cfg := h.provider.Calls()[0].Cfg
	if !strings.Contains(cfg.Instructions, "Comporte-toi de manière : SARCASTIQUE.") {
		t.Errorf("instructions = %q", cfg.Instructions)
	}
	if cfg.Voice != "Puck" {
		t.Errorf("voice = %q, want Puck", cfg.Voice)
	}
}

func TestSetBehavior_EmptyRestoresDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.ctrl.SetBehavior("  ")
	if got := h.ctrl.Behavior(); got != live.DefaultBehavior {
		t.Errorf("Behavior() = %q, want %q", got, live.DefaultBehavior)
	}
	if !strings.Contains(h.ctrl.Instructions(), "JOYEUSE") {
		t.Errorf("Instructions() = %q", h.ctrl.Instructions())
	}
}

func TestStart_MicrophoneDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.backend.InputError = errors.New("permission refused")

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, live.ErrPermissionDenied) {
		t.Fatalf("Start err = %v, want ErrPermissionDenied", err)
	}
	st := h.ctrl.Status()
	if st.State != live.StateErrored || st.Text != live.StatusMicDenied {
		t.Errorf("status = %v %q, want errored %q", st.State, st.Text, live.StatusMicDenied)
	}
	if !errors.Is(h.ctrl.Err(), live.ErrPermissionDenied) {
		t.Errorf("Err() = %v", h.ctrl.Err())
	}
	if n := len(h.provider.Calls()); n != 0 {
		t.Errorf("Connect called %d times after mic denial", n)
	}
}

func TestStart_CaptureStartFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.in.StartError = errors.New("device busy")

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, live.ErrPermissionDenied) {
		t.Fatalf("Start err = %v, want ErrPermissionDenied", err)
	}
	waitFor(t, "errored", func() bool { return h.ctrl.State() == live.StateErrored })
	select {
	case <-h.sess.Closed():
	case <-time.After(time.Second):
		t.Fatal("transport not closed")
	}
	if !h.out.Closed() {
		t.Error("output not released")
	}
}

func TestStart_ConnectFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.provider.ConnectErr = errors.New("dial refused")

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, live.ErrTransport) {
		t.Fatalf("Start err = %v, want ErrTransport", err)
	}
	st := h.ctrl.Status()
	if st.State != live.StateErrored || st.Text != live.StatusLinkLost {
		t.Errorf("status = %v %q", st.State, st.Text)
	}
	if h.in.CallCountClose != 1 || !h.out.Closed() {
		t.Error("devices not released after connect failure")
	}
}

func TestStart_RejectsSecondSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	if err := h.ctrl.Start(context.Background()); !errors.Is(err, live.ErrSessionActive) {
		t.Errorf("second Start err = %v, want ErrSessionActive", err)
	}
	if n := len(h.provider.Calls()); n != 1 {
		t.Errorf("Connect calls = %d, want 1", n)
	}
}

func TestStop_DuringOpening(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.provider.Block = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Start(context.Background()) }()
	waitFor(t, "opening", func() bool { return len(h.provider.Calls()) == 1 })

	if got := h.ctrl.State(); got != live.StateOpening {
		t.Fatalf("state = %v, want opening", got)
	}
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-errc:
		if err == nil {
			t.Error("aborted Start returned nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	st := h.ctrl.Status()
	if st.State != live.StateClosed || st.Text != live.StatusReady {
		t.Errorf("status = %v %q, want closed %q", st.State, st.Text, live.StatusReady)
	}
	if h.in.Started() {
		t.Error("microphone still started")
	}
	if !h.out.Closed() {
		t.Error("output not released")
	}
}

func TestStart_CancelledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.provider.Block = make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := h.ctrl.Start(ctx); err == nil {
		t.Fatal("Start with expiring context should fail")
	}
	if got := h.ctrl.State(); got != live.StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestFrames_SentInCaptureOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	for i := range 5 {
		if !h.in.Push(ramp(frameSize, float32(i+1)/10)) {
			t.Fatal("input not started")
		}
	}
	waitFor(t, "five packets", func() bool { return len(h.sess.AudioPackets()) == 5 })

	for i, p := range h.sess.AudioPackets() {
		if p.MIMEType != audio.PCMMIMEType(audio.DefaultInputRate) {
			t.Errorf("packet %d mime = %q", i, p.MIMEType)
		}
		raw, err := p.Bytes()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		buf, err := audio.Decode(raw, audio.DefaultInputRate, 1)
		if err != nil {
			t.Fatalf("packet %d decode: %v", i, err)
		}
		if buf.Frames() != frameSize {
			t.Errorf("packet %d frames = %d, want %d", i, buf.Frames(), frameSize)
		}
		want := float32(i+1) / 10
		if got := buf.Data[0][0]; got < want-0.01 || got > want+0.01 {
			t.Errorf("packet %d sample = %v, want ~%v", i, got, want)
		}
	}
}

func TestFrames_PartialFrameIsHeld(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	h.in.Push(ramp(frameSize/2, 0.1))
	time.Sleep(20 * time.Millisecond)
	if n := len(h.sess.AudioPackets()); n != 0 {
		t.Fatalf("partial frame sent: %d packets", n)
	}
	h.in.Push(ramp(frameSize/2, 0.1))
	waitFor(t, "one packet", func() bool { return len(h.sess.AudioPackets()) == 1 })
}

func TestFrames_NoneAfterStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.in.Push(ramp(frameSize, 0.5)) {
		t.Error("input still delivering after Stop")
	}
	if n := len(h.sess.AudioPackets()); n != 0 {
		t.Errorf("packets after Stop = %d", n)
	}
}

func TestPlayback_FragmentsAbut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)
	h.out.SetNow(time.Second)

	mime := audio.PCMMIMEType(audio.DefaultOutputRate)
	h.sess.Emit(s2s.AudioEvent{Data: pcm(2400, 1000), MIMEType: mime}) // 100ms
	h.sess.Emit(s2s.AudioEvent{Data: pcm(4800, 1000), MIMEType: mime}) // 200ms
	h.sess.Emit(s2s.AudioEvent{Data: pcm(2400, 1000), MIMEType: mime}) // 100ms
	waitFor(t, "three voices", func() bool { return len(h.out.Voices()) == 3 })

	voices := h.out.Voices()
	wantStarts := []time.Duration{time.Second, 1100 * time.Millisecond, 1300 * time.Millisecond}
	for i, v := range voices {
		if v.Start != wantStarts[i] {
			t.Errorf("voice %d start = %v, want %v", i, v.Start, wantStarts[i])
		}
	}
}

func TestPlayback_MalformedFragmentDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	mime := audio.PCMMIMEType(audio.DefaultOutputRate)
	h.sess.Emit(s2s.AudioEvent{Data: []byte{1, 2, 3}, MIMEType: mime})
	h.sess.Emit(s2s.AudioEvent{Data: pcm(240, 100), MIMEType: mime})
	waitFor(t, "one voice", func() bool { return len(h.out.Voices()) == 1 })

	if got := h.ctrl.State(); got != live.StateActive {
		t.Errorf("state = %v, want active after malformed fragment", got)
	}
}

func TestPlayback_MissingRateUsesOutputDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	h.sess.Emit(s2s.AudioEvent{Data: pcm(2400, 100)})
	waitFor(t, "one voice", func() bool { return len(h.out.Voices()) == 1 })
	if d := h.out.Voices()[0].Duration; d != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms at 24kHz", d)
	}
}

func TestInterrupted_FlushesPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	mime := audio.PCMMIMEType(audio.DefaultOutputRate)
	for range 3 {
		h.sess.Emit(s2s.AudioEvent{Data: pcm(24000, 100), MIMEType: mime})
	}
	waitFor(t, "three voices", func() bool { return len(h.out.Voices()) == 3 })
	if got := h.ctrl.PlaybackPending(); got != 3 {
		t.Fatalf("pending before barge-in = %d, want 3", got)
	}

	h.sess.Emit(s2s.InterruptedEvent{})
	waitFor(t, "pending set empty", func() bool { return h.ctrl.PlaybackPending() == 0 })
	for i, v := range h.out.Voices() {
		if v.StopCalls() != 1 {
			t.Errorf("voice %d stopped %d times, want 1", i, v.StopCalls())
		}
	}

	// The cursor falls back to the live clock instead of the end of the
	// flushed third second.
	h.out.SetNow(300 * time.Millisecond)
	h.sess.Emit(s2s.AudioEvent{Data: pcm(2400, 100), MIMEType: mime})
	waitFor(t, "fourth voice", func() bool { return len(h.out.Voices()) == 4 })
	if got := h.out.Voices()[3].Start; got != 300*time.Millisecond {
		t.Errorf("post-flush start = %v, want 300ms", got)
	}
	if got := h.ctrl.State(); got != live.StateActive {
		t.Errorf("state = %v, want active", got)
	}
}

func TestStop_TeardownRunsEveryStep(t *testing.T) {
	t.Parallel()

	errMic := errors.New("mic stuck")
	errLink := errors.New("socket reset")
	h := newHarness(t, nil)
	h.in.StopError = errMic
	h.sess.CloseErr = errLink

	// At transport close, capture must already be stopped while playback
	// and the devices are still untouched.
	type snapshot struct {
		inStops, voiceStops int
		outClosed           bool
	}
	var atClose snapshot
	h.sess.OnClose = func() {
		atClose.inStops = h.in.CallCountStop
		for _, v := range h.out.Voices() {
			atClose.voiceStops += v.StopCalls()
		}
		atClose.outClosed = h.out.Closed()
	}

	h.start(t)
	mime := audio.PCMMIMEType(audio.DefaultOutputRate)
	for range 3 {
		h.sess.Emit(s2s.AudioEvent{Data: pcm(24000, 100), MIMEType: mime})
	}
	waitFor(t, "three voices", func() bool { return len(h.out.Voices()) == 3 })

	err := h.ctrl.Stop()
	if !errors.Is(err, errMic) || !errors.Is(err, errLink) {
		t.Fatalf("Stop err = %v, want both teardown failures joined", err)
	}

	if atClose.inStops != 1 || atClose.voiceStops != 0 || atClose.outClosed {
		t.Errorf("state at transport close = %+v, want capture stopped only", atClose)
	}
	for i, v := range h.out.Voices() {
		if v.StopCalls() == 0 {
			t.Errorf("voice %d still playing after Stop", i)
		}
	}
	if h.in.CallCountClose != 1 {
		t.Errorf("input closed %d times, want 1", h.in.CallCountClose)
	}
	if !h.out.Closed() {
		t.Error("output not closed")
	}
	if got := h.ctrl.PlaybackPending(); got != 0 {
		t.Errorf("pending after Stop = %d, want 0", got)
	}
	if st := h.ctrl.Status(); st.State != live.StateClosed || st.Text != live.StatusReady {
		t.Errorf("status = %+v, want closed/%q", st, live.StatusReady)
	}
}

func TestToolCall_ResponseCorrelated(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var notes []string
	notifier := notifyFunc(func(_ context.Context, text string) error {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, text)
		return nil
	})
	h := newHarness(t, func(cfg *live.Config) {
		cfg.Tools = tools.NewDispatcher(notifier)
	})
	h.start(t)

	h.sess.Emit(s2s.ToolCallEvent{Calls: []s2s.ToolCall{
		{ID: "call-1", Name: tools.ControlDeviceName, Args: map[string]any{"action": "call", "target": "Léa"}},
		{ID: "call-2", Name: "launchRocket", Args: map[string]any{}},
	}})
	waitFor(t, "two responses", func() bool { return len(h.sess.ToolResponses()) == 2 })

	byID := map[string]s2s.ToolResponse{}
	for _, r := range h.sess.ToolResponses() {
		byID[r.ID] = r
	}
	if r := byID["call-1"]; r.Name != tools.ControlDeviceName || r.Response["status"] != tools.StatusSuccess {
		t.Errorf("call-1 response = %+v", r)
	}
	if r := byID["call-2"]; r.Name != "launchRocket" || r.Response["status"] != tools.StatusError {
		t.Errorf("call-2 response = %+v", r)
	}

	waitFor(t, "notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notes) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if want := "Sharon confirme l'ordre : call sur Léa."; notes[0] != want {
		t.Errorf("notification = %q, want %q", notes[0], want)
	}
}

type notifyFunc func(ctx context.Context, text string) error

func (f notifyFunc) Notify(ctx context.Context, text string) error { return f(ctx, text) }

func TestTranscript_Forwarded(t *testing.T) {
	t.Parallel()

	got := make(chan s2s.TranscriptEvent, 1)
	h := newHarness(t, func(cfg *live.Config) {
		cfg.Transcription = true
		cfg.OnTranscript = func(ev s2s.TranscriptEvent) { got <- ev }
	})
	h.start(t)
	if !h.provider.Calls()[0].Cfg.Transcription {
		t.Error("transcription not requested")
	}

	h.sess.Emit(s2s.TranscriptEvent{Role: s2s.RoleUser, Text: "appelle Léa"})
	select {
	case ev := <-got:
		if ev.Role != s2s.RoleUser || ev.Text != "appelle Léa" {
			t.Errorf("transcript = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("transcript not forwarded")
	}
}

func TestRemoteClose_EndsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	h.sess.Emit(s2s.ClosedEvent{Reason: "normal closure"})
	waitFor(t, "closed", func() bool { return h.ctrl.State() == live.StateClosed })

	st := h.ctrl.Status()
	if st.Text != live.StatusEnded || st.Err != nil {
		t.Errorf("status = %q err=%v, want %q", st.Text, st.Err, live.StatusEnded)
	}
	if h.in.Started() {
		t.Error("microphone still started")
	}
	if h.sess.CloseCalls() == 0 {
		t.Error("transport not closed")
	}
}

func TestEventStreamEnd_EndsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	h.sess.EndStream()
	waitFor(t, "closed", func() bool { return h.ctrl.State() == live.StateClosed })
	if got := h.ctrl.Status().Text; got != live.StatusEnded {
		t.Errorf("status = %q, want %q", got, live.StatusEnded)
	}
}

func TestTransportError_ErrorsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)

	boom := errors.New("connection reset")
	h.sess.Emit(s2s.ErrorEvent{Err: boom})
	waitFor(t, "errored", func() bool { return h.ctrl.State() == live.StateErrored })

	st := h.ctrl.Status()
	if st.Text != live.StatusLinkLost {
		t.Errorf("status = %q, want %q", st.Text, live.StatusLinkLost)
	}
	if !errors.Is(st.Err, live.ErrTransport) || !errors.Is(st.Err, boom) {
		t.Errorf("Err = %v, want wrapping ErrTransport and cause", st.Err)
	}
	if !h.out.Closed() || h.in.Started() {
		t.Error("devices not released")
	}

	// Stop after an error keeps the error visible.
	if err := h.ctrl.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if got := h.ctrl.State(); got != live.StateErrored {
		t.Errorf("state after Stop = %v, want errored", got)
	}
}

func TestStop_IdempotentAndReleases(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop while idle: %v", err)
	}
	h.start(t)

	mime := audio.PCMMIMEType(audio.DefaultOutputRate)
	h.sess.Emit(s2s.AudioEvent{Data: pcm(24000, 100), MIMEType: mime})
	waitFor(t, "voice", func() bool { return len(h.out.Voices()) == 1 })

	for range 3 {
		if err := h.ctrl.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	st := h.ctrl.Status()
	if st.State != live.StateClosed || st.Text != live.StatusReady {
		t.Errorf("status = %v %q, want closed %q", st.State, st.Text, live.StatusReady)
	}
	if h.sess.CloseCalls() != 1 {
		t.Errorf("transport Close calls = %d, want 1", h.sess.CloseCalls())
	}
	if h.out.Voices()[0].StopCalls() == 0 {
		t.Error("pending playback not stopped")
	}
	if h.in.CallCountClose != 1 || !h.out.Closed() {
		t.Error("devices not released exactly once")
	}
}

// freshProvider hands out a new mock session per Connect.
type freshProvider struct {
	mu       sync.Mutex
	sessions []*s2smock.Session
}

func (p *freshProvider) Connect(context.Context, s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := s2smock.NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *freshProvider) Capabilities() s2s.Capabilities { return s2s.Capabilities{} }

func (p *freshProvider) last() *s2smock.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[len(p.sessions)-1]
}

func TestRestart_AfterStopAndAfterError(t *testing.T) {
	t.Parallel()

	p := &freshProvider{}
	h := newHarness(t, func(cfg *live.Config) { cfg.Provider = p })

	h.start(t)
	first := h.ctrl.Status().SessionID
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	h.start(t)
	second := h.ctrl.Status().SessionID
	if second == first {
		t.Error("restart reused the session id")
	}

	p.last().Emit(s2s.ErrorEvent{Err: errors.New("lost")})
	waitFor(t, "errored", func() bool { return h.ctrl.State() == live.StateErrored })

	h.start(t)
	h.in.Push(ramp(frameSize, 0.2))
	waitFor(t, "frame on third session", func() bool { return len(p.last().AudioPackets()) == 1 })
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	updates, unsubscribe := h.ctrl.Subscribe()
	<-updates
	unsubscribe()
	unsubscribe()

	if _, ok := <-updates; ok {
		t.Error("channel still open after unsubscribe")
	}
	h.start(t)
}
