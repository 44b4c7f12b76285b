package feed

import (
	"context"
	"log/slog"
)

// SlogHandler wraps an slog.Handler and republishes records at or above a
// minimum level as LogEntry events.
type SlogHandler struct {
	inner slog.Handler
	bus   *Bus
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewSlogHandler returns a handler that writes to inner and publishes records
// of the given level or higher to bus.
func NewSlogHandler(inner slog.Handler, bus *Bus, level slog.Level) *SlogHandler {
	return &SlogHandler{inner: inner, bus: bus, level: level}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		entry := map[string]any{
			"level": r.Level.String(),
			"msg":   r.Message,
			"time":  r.Time,
		}
		if h.group != "" {
			entry["group"] = h.group
		}
		add := func(a slog.Attr) bool {
			v := a.Value.Resolve().Any()
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			entry[a.Key] = v
			return true
		}
		for _, a := range h.attrs {
			add(a)
		}
		r.Attrs(add)
		h.bus.PublishType(LogEntry, entry)
	}
	return h.inner.Handle(ctx, r)
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &SlogHandler{
		inner: h.inner.WithAttrs(attrs),
		bus:   h.bus,
		level: h.level,
		attrs: merged,
		group: h.group,
	}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &SlogHandler{
		inner: h.inner.WithGroup(name),
		bus:   h.bus,
		level: h.level,
		attrs: h.attrs,
		group: group,
	}
}
