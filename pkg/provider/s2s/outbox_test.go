package s2s_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

func TestOutbox_PreservesOrder(t *testing.T) {
	t.Parallel()

	o := s2s.NewOutbox[int](16)
	for i := range 10 {
		if err := o.Push(i); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	var got []int
	errDone := errors.New("done")
	err := o.Run(context.Background(), func(_ context.Context, v int) error {
		got = append(got, v)
		if len(got) == 10 {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("Run: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d = %d, want %d", i, v, i)
		}
	}
}

func TestOutbox_Backpressure(t *testing.T) {
	t.Parallel()

	o := s2s.NewOutbox[string](2)
	_ = o.Push("a")
	_ = o.Push("b")
	if err := o.Push("c"); !errors.Is(err, s2s.ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}
}

func TestOutbox_ControlNeverDropped(t *testing.T) {
	t.Parallel()

	o := s2s.NewOutbox[string](2)
	_ = o.Push("audio-1")
	_ = o.Push("audio-2")
	if err := o.Push("audio-3"); !errors.Is(err, s2s.ErrBackpressure) {
		t.Fatalf("data lane err = %v, want ErrBackpressure", err)
	}
	for _, id := range []string{"call-1", "call-2", "call-3"} {
		if err := o.PushControl(id); err != nil {
			t.Fatalf("PushControl(%s): %v", id, err)
		}
	}

	var got []string
	errDone := errors.New("done")
	err := o.Run(context.Background(), func(_ context.Context, v string) error {
		got = append(got, v)
		if len(got) == 5 {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"call-1", "call-2", "call-3", "audio-1", "audio-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write order = %v, want %v", got, want)
		}
	}
}

func TestOutbox_ControlWakesIdleRun(t *testing.T) {
	t.Parallel()

	o := s2s.NewOutbox[string](4)
	written := make(chan string, 1)
	go func() {
		_ = o.Run(context.Background(), func(_ context.Context, v string) error {
			written <- v
			return nil
		})
	}()
	t.Cleanup(o.Close)

	if err := o.PushControl("call-9"); err != nil {
		t.Fatalf("PushControl: %v", err)
	}
	select {
	case v := <-written:
		if v != "call-9" {
			t.Errorf("written = %q, want call-9", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control message not written")
	}
}

func TestOutbox_ClosedRejectsAndStopsRun(t *testing.T) {
	t.Parallel()

	o := s2s.NewOutbox[int](4)
	done := make(chan error, 1)
	go func() {
		done <- o.Run(context.Background(), func(context.Context, int) error { return nil })
	}()

	o.Close()
	o.Close()
	if err := o.Push(1); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Fatalf("Push after Close: err = %v, want ErrSessionClosed", err)
	}
	if err := o.PushControl(1); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Fatalf("PushControl after Close: err = %v, want ErrSessionClosed", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ev   s2s.Event
		want bool
	}{
		{s2s.AudioEvent{}, false},
		{s2s.InterruptedEvent{}, false},
		{s2s.ToolCallEvent{}, false},
		{s2s.ClosedEvent{Reason: "bye"}, true},
		{s2s.ErrorEvent{Err: errors.New("x")}, true},
	}
	for _, tt := range tests {
		if got := s2s.Terminal(tt.ev); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.ev.Kind(), got, tt.want)
		}
	}
}
