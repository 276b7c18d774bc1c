package xray

import (
	"context"
	"log/slog"
)

// levelHandler drops records below a minimum level before they reach the
// wrapped handler. It lets the SDK stay quiet inside a host application whose
// own handler logs at Info or Debug.
type levelHandler struct {
	min  slog.Level
	next slog.Handler
}

func newLogger(base *slog.Logger, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(&levelHandler{min: level, next: base.Handler()})
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.min && h.next.Enabled(ctx, l)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{min: h.min, next: h.next.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{min: h.min, next: h.next.WithGroup(name)}
}
