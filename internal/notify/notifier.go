// Package notify fans operator alerts out to chat channels. The executor
// raises alerts for events that need a human (stranded inventory, repeated
// venue rejections); senders deliver them to Telegram or Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender delivers one rendered alert over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier filters and dispatches alerts. Two filters apply before delivery:
// an allow-set of event types (empty set allows everything) and a per-event
// throttle so a wedged venue cannot flood the channel during an incident.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	throttle time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewNotifier creates a Notifier delivering to senders. Only event types in
// events pass the filter; an empty list allows all. At most one alert per
// event type is delivered per throttle interval (zero disables throttling).
func NewNotifier(senders []Sender, events []string, throttle time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		throttle: throttle,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
	}
}

// Notify delivers an alert if its event type passes the allow-set and the
// throttle. Filtered alerts are dropped silently with a debug log.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("event", event))
		return nil
	}
	if !n.admit(event) {
		n.logger.DebugContext(ctx, "alert throttled", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll bypasses both filters. Used for alerts that must always reach an
// operator, like remediation failures.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) admit(event string) bool {
	if n.throttle <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	if last, ok := n.lastSent[event]; ok && now.Sub(last) < n.throttle {
		return false
	}
	n.lastSent[event] = now
	return true
}

// dispatch delivers to every sender; one sender failing does not stop the
// rest. Failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
