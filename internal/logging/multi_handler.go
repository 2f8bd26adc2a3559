package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler duplicates each record across the stdout, journal, and buffer
// handlers so one logger call reaches every sink. Per-handler level checks
// still apply, so the ring buffer can keep debug records that stdout drops.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler combines the given handlers. Nil entries are skipped, which
// lets the caller pass optional sinks (the journal handler is only present on
// systemd hosts) without branching.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	kept := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &MultiHandler{handlers: kept}
}

// Enabled reports true when any underlying handler would accept the level.
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h.handlers {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every handler that accepts its level. A
// failing sink does not stop delivery to the others; errors are joined.
func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, sub := range h.handlers {
		if !sub.Enabled(ctx, r.Level) {
			continue
		}
		if err := sub.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		handlers[i] = sub.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		handlers[i] = sub.WithGroup(name)
	}
	return &MultiHandler{handlers: handlers}
}
