package command

import (
	"context"
	"log/slog"
)

// LogNotifier records commands in the log instead of delivering them.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, target, message string) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification requested", "target", target, "message", message)
	return nil
}
