package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// maxCapturedLines bounds the per-run log kept on the run row. Older
// lines roll off; the rendered log starts with a truncation sentinel
// when anything was dropped.
const maxCapturedLines = 5000

// LogBuffer is a bounded ring of rendered log lines. It doubles as a
// slog.Handler so one logger can feed both the process log and the
// run's captured log.
type LogBuffer struct {
	mu        sync.Mutex
	lines     []string
	start     int
	count     int
	truncated bool

	next  slog.Handler
	attrs []slog.Attr
}

// NewLogBuffer creates a capture buffer that also forwards records to
// next (nil means capture only).
func NewLogBuffer(next slog.Handler) *LogBuffer {
	return &LogBuffer{lines: make([]string, maxCapturedLines), next: next}
}

// Append adds one rendered line, evicting the oldest when full.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.lines) {
		b.start = (b.start + 1) % len(b.lines)
		b.count--
		b.truncated = true
	}
	b.lines[(b.start+b.count)%len(b.lines)] = line
	b.count++
}

// Lines returns the captured log in order, prefixed with a truncation
// sentinel when older lines were dropped.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, b.count+1)
	if b.truncated {
		out = append(out, fmt.Sprintf("... log truncated, showing last %d lines ...", len(b.lines)))
	}
	for i := 0; i < b.count; i++ {
		out = append(out, b.lines[(b.start+i)%len(b.lines)])
	}
	return out
}

// Truncated reports whether any lines rolled off.
func (b *LogBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Enabled implements slog.Handler. Capture keeps everything from INFO
// up; DEBUG passes through only if the forward handler wants it.
func (b *LogBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= slog.LevelInfo {
		return true
	}
	return b.next != nil && b.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (b *LogBuffer) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= slog.LevelInfo {
		b.Append(renderLine(rec, b.attrs))
	}
	if b.next != nil && b.next.Enabled(ctx, rec.Level) {
		return b.next.Handle(ctx, rec)
	}
	return nil
}

// WithAttrs implements slog.Handler. The clone shares the ring so all
// derived loggers feed one capture.
func (b *LogBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &shared{buf: b, attrs: append(append([]slog.Attr{}, b.attrs...), attrs...)}
	if b.next != nil {
		clone.next = b.next.WithAttrs(attrs)
	}
	return clone
}

// WithGroup implements slog.Handler. Groups are flattened in the
// captured text; the forward handler keeps its own grouping.
func (b *LogBuffer) WithGroup(name string) slog.Handler {
	clone := &shared{buf: b, attrs: b.attrs}
	if b.next != nil {
		clone.next = b.next.WithGroup(name)
	}
	return clone
}

// shared is a derived handler view over the same ring.
type shared struct {
	buf   *LogBuffer
	attrs []slog.Attr
	next  slog.Handler
}

func (s *shared) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= slog.LevelInfo {
		return true
	}
	return s.next != nil && s.next.Enabled(ctx, level)
}

func (s *shared) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= slog.LevelInfo {
		s.buf.Append(renderLine(rec, s.attrs))
	}
	if s.next != nil && s.next.Enabled(ctx, rec.Level) {
		return s.next.Handle(ctx, rec)
	}
	return nil
}

func (s *shared) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &shared{buf: s.buf, attrs: append(append([]slog.Attr{}, s.attrs...), attrs...)}
	if s.next != nil {
		clone.next = s.next.WithAttrs(attrs)
	}
	return clone
}

func (s *shared) WithGroup(name string) slog.Handler {
	clone := &shared{buf: s.buf, attrs: s.attrs}
	if s.next != nil {
		clone.next = s.next.WithGroup(name)
	}
	return clone
}

func renderLine(rec slog.Record, base []slog.Attr) string {
	var sb strings.Builder
	sb.WriteString(rec.Time.UTC().Format(time.RFC3339))
	sb.WriteByte(' ')
	sb.WriteString(rec.Level.String())
	sb.WriteByte(' ')
	sb.WriteString(rec.Message)
	for _, a := range base {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
		return true
	})
	return sb.String()
}
