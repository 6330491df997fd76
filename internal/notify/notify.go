// Package notify provides sinks for the spoken confirmations emitted when the
// live model drives the device. Every sink satisfies tools.Notifier.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Log writes each notification as an info record.
type Log struct {
	Logger *slog.Logger
}

// Notify logs text.
func (l Log) Notify(ctx context.Context, text string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "text", text)
	return nil
}

// Func adapts a plain function.
type Func func(ctx context.Context, text string) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, text string) error { return f(ctx, text) }

// Notifier is the interface every sink implements. It mirrors tools.Notifier
// so this package does not import the dispatcher.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Notifier

// Notify delivers text to each sink in order.
func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Command speaks notifications through an external program such as
// espeak-ng or say. The text is appended as the last argument. Invocations
// are serialised so utterances never overlap.
type Command struct {
	argv []string
	mu   sync.Mutex
}

// NewCommand returns a Command running argv. argv must name a program.
func NewCommand(argv ...string) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("notify: empty command")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	return &Command{argv: append([]string(nil), argv...)}, nil
}

// Notify runs the command and waits for it to exit or ctx to end.
func (c *Command) Notify(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := append(append([]string(nil), c.argv[1:]...), text)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("notify: %s: %w: %s", c.argv[0], err, msg)
		}
		return fmt.Errorf("notify: %s: %w", c.argv[0], err)
	}
	return nil
}

// Notification is one delivered message.
type Notification struct {
	Text string
	At   time.Time
}

// Channel publishes notifications on a buffered channel for UIs. When the
// reader falls behind, new notifications are dropped rather than blocking
// the dispatcher.
type Channel struct {
	ch chan Notification
}

// NewChannel returns a Channel buffering up to size notifications.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan Notification, size)}
}

// Notify enqueues text.
func (c *Channel) Notify(_ context.Context, text string) error {
	select {
	case c.ch <- Notification{Text: text, At: time.Now()}:
		return nil
	default:
		return errors.New("notify: channel full")
	}
}

// C returns the receive side.
func (c *Channel) C() <-chan Notification { return c.ch }
