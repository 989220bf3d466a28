// Package push bridges push events to user-visible notifications and
// routes notification clicks back into the application.
//
// A push payload is parsed as structured data and always produces exactly
// one displayed notification; a malformed payload degrades to a generic
// notification rather than being dropped silently. A notification click
// closes the notification and then performs exactly one of: focusing an
// existing same-origin window and navigating it to the target URL, or
// opening a new window at that URL.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ActionDismiss is the reserved action identifier for dismissing a
// notification without routing anywhere.
const ActionDismiss = "dismiss"

// Payload is the structured data carried by a push event.
type Payload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url"`
	Actions []Action `json:"actions,omitempty"`
}

// Action is one button offered on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Click describes a user interaction with a displayed notification.
// Action is empty when the notification body itself was clicked.
type Click struct {
	Action  string
	Payload Payload
}

// Notifier displays notifications on the platform's notification surface.
type Notifier interface {
	Show(ctx context.Context, p Payload) error
	Close(ctx context.Context, p Payload) error
}

// Window is an open application window the bridge can route a click to.
type Window interface {
	Origin() string
	Focus(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
}

// Windows enumerates and opens application windows.
type Windows interface {
	List(ctx context.Context) ([]Window, error)
	OpenWindow(ctx context.Context, url string) error
}

// Bridge delivers push-triggered notifications and routes clicks.
type Bridge struct {
	notifier Notifier
	windows  Windows
	origin   string

	fallbackTitle string
	logger        *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithFallbackTitle sets the title used when a push payload cannot be
// parsed. Defaults to "Notification".
func WithFallbackTitle(title string) Option {
	return func(b *Bridge) {
		if title != "" {
			b.fallbackTitle = title
		}
	}
}

// WithLogger sets the logger for malformed payloads and routing failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bridge. origin is the application origin used to match
// open windows when routing clicks.
func New(notifier Notifier, windows Windows, origin string, opts ...Option) (*Bridge, error) {
	if notifier == nil {
		return nil, errors.New("push: notifier is required")
	}
	if windows == nil {
		return nil, errors.New("push: windows is required")
	}
	b := &Bridge{
		notifier:      notifier,
		windows:       windows,
		origin:        origin,
		fallbackTitle: "Notification",
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(b)
	}
	return b, nil
}

// HandlePush parses the push payload and displays exactly one
// notification. The event is held open until the notification is shown;
// an unparseable payload produces a fallback notification carrying the
// raw data as its body so a push is never dropped silently.
func (b *Bridge) HandlePush(ctx context.Context, data []byte) error {
	payload := b.parse(data)
	if err := b.notifier.Show(ctx, payload); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	return nil
}

func (b *Bridge) parse(data []byte) Payload {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil || p.Title == "" {
		if err != nil {
			b.logger.Warn("malformed push payload", "error", err)
		}
		return Payload{Title: b.fallbackTitle, Body: string(data)}
	}
	return p
}

// HandleClick closes the notification and routes the click: unless the
// dismiss action was chosen, exactly one of focus-existing or open-new
// happens, never both and never neither.
func (b *Bridge) HandleClick(ctx context.Context, click Click) error {
	if err := b.notifier.Close(ctx, click.Payload); err != nil {
		b.logger.Warn("close notification failed", "error", err)
	}
	if click.Action == ActionDismiss {
		return nil
	}

	target := click.Payload.URL
	if target == "" {
		target = "/"
	}

	windows, err := b.windows.List(ctx)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}
	for _, win := range windows {
		if win.Origin() != b.origin {
			continue
		}
		if err := win.Focus(ctx); err != nil {
			return fmt.Errorf("focus window: %w", err)
		}
		if err := win.Navigate(ctx, target); err != nil {
			return fmt.Errorf("navigate window: %w", err)
		}
		return nil
	}

	if err := b.windows.OpenWindow(ctx, target); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	return nil
}
