// Package logx configures the process logger: slog with a text handler on
// stderr plus an in-memory ring of recent lines that ops tooling (and the
// queue client's debug dumps) can read back.
package logx

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Extra levels beyond the slog built-ins, mapped from the TWS_LOG_LEVEL names.
const (
	LevelTrace    = slog.LevelDebug - 4
	LevelCritical = slog.LevelError + 4
)

// ParseLevel maps TRACE, DEBUG, INFO, WARNING, ERROR, CRITICAL to slog levels.
// Unknown names fall back to INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default logger and returns the handler so callers can
// inspect recent lines.
func Setup(levelName string, ringSize int) *RingHandler {
	h := NewRingHandler(ParseLevel(levelName), ringSize)
	slog.SetDefault(slog.New(h))
	return h
}

// Line is one captured log record.
type Line struct {
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Time    time.Time      `json:"ts"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// RingHandler forwards records to a text handler and keeps the most recent
// ones in a fixed-size ring.
type RingHandler struct {
	inner slog.Handler
	level slog.Leveler
	attrs []slog.Attr
	group string

	mu    sync.Mutex
	ring  []Line
	pos   int
	count int
}

func NewRingHandler(level slog.Leveler, ringSize int) *RingHandler {
	if ringSize <= 0 {
		ringSize = 1000
	}
	return &RingHandler{
		inner: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		level: level,
		ring:  make([]Line, ringSize),
	}
}

func (h *RingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[h.group+a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.group+a.Key] = a.Value.Any()
		return true
	})

	line := Line{Level: r.Level.String(), Message: r.Message, Time: r.Time}
	if len(attrs) > 0 {
		line.Attrs = attrs
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.pos] = line
	h.pos = (h.pos + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
	return nil
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RingHandler{
		inner: h.inner.WithAttrs(attrs),
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
		group: h.group,
		ring:  h.ring,
		pos:   h.pos,
		count: h.count,
	}
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &RingHandler{
		inner: h.inner.WithGroup(name),
		level: h.level,
		attrs: append([]slog.Attr{}, h.attrs...),
		group: h.group + name + ".",
		ring:  h.ring,
		pos:   h.pos,
		count: h.count,
	}
}

// Recent returns the captured lines, oldest first.
func (h *RingHandler) Recent() []Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return nil
	}
	out := make([]Line, h.count)
	start := (h.pos - h.count + len(h.ring)) % len(h.ring)
	for i := range h.count {
		out[i] = h.ring[(start+i)%len(h.ring)]
	}
	return out
}
