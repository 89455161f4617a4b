// Package report delivers run outcomes: every classifier decision, the
// floating-refresh result, and any fatal error. The engine has no
// opinion on transport; notifiers behind the Notifier interface decide
// where events go.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Severity orders events for filtering.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// ParseSeverity converts a configuration string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity: %s", s)
}

// String returns the configuration name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// Commit identifies the commit that triggered a deployment.
type Commit struct {
	ID      string
	Message string
}

// Event is one reportable outcome.
type Event struct {
	Title    string
	Message  string
	Severity Severity
	Action   string
	Fields   map[string]string
	Commit   *Commit
	Time     time.Time
}

// Notifier delivers events. Delivery failures are returned, not
// swallowed; the caller decides whether they are fatal.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event at the level matching its severity.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	args := []any{"message", event.Message}
	if event.Action != "" {
		args = append(args, "action", event.Action)
	}
	if event.Commit != nil {
		args = append(args, "commit", event.Commit.ID)
	}
	for k, v := range event.Fields {
		args = append(args, k, v)
	}

	n.logger.Log(ctx, slogLevel(event.Severity), event.Title, args...)
	return nil
}

func slogLevel(s Severity) slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Multi fans an event out to all notifiers, collecting their failures.
type Multi []Notifier

// Notify delivers the event to every notifier and joins any errors.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
