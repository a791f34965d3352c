// Package notify alerts operators about jobs that need manual attention. Alerts
// go to every configured sender (Telegram, Discord) and can be filtered by
// event so operators receive only the ones they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// Events an Alert may carry.
const (
	EventJobFailed = "job.failed"
)

// Alert is one operator notification.
type Alert struct {
	Event string
	Title string
	Body  string
}

// Sender delivers an alert over one channel.
type Sender interface {
	Send(ctx context.Context, title, body string) error
	Name() string
}

// Notifier fans alerts out to its senders. A nil *Notifier or one without
// senders drops every alert.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. When events is empty every event passes.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify delivers a to every sender. One sender failing does not stop the
// others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("event", a.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a.Title, a.Body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// JobFailed builds the alert for a job that exhausted its attempts or failed
// unrecoverably.
func JobFailed(queue string, rec domain.JobRecord, cause error) Alert {
	return Alert{
		Event: EventJobFailed,
		Title: fmt.Sprintf("Job failed on %s", queue),
		Body: fmt.Sprintf("job %s (%s, %s) failed after %d attempt(s): %v\nretry: bidindex jobs retry %s %s",
			rec.ID, rec.Name, rec.Kind, rec.Attempts, cause, queue, rec.ID),
	}
}
