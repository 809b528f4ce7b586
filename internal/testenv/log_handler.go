// Package testenv holds helpers shared by the litesync tests.
package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/litesync/litesync.go/pkg/logger"
)

// LogRecorder is a slog.Handler that keeps every record as a line of the form
// "LEVEL: message k=v, k=v", without timestamps, so tests can assert on it.
// It is safe for concurrent use; handlers derived with WithAttrs share the lines.
type LogRecorder struct {
	shared      *recorded
	attrs       []slog.Attr
	ignoreDebug bool
}

type recorded struct {
	mu    sync.Mutex
	lines []string
}

type LogRecorderOption func(*LogRecorder)

// WithIgnoreDebug drops DEBUG records.
func WithIgnoreDebug() LogRecorderOption {
	return func(h *LogRecorder) {
		h.ignoreDebug = true
	}
}

func NewLogRecorder(opts ...LogRecorderOption) *LogRecorder {
	h := &LogRecorder{shared: &recorded{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Logger wraps the recorder in the litesync logger facade.
func (h *LogRecorder) Logger() *logger.SlogHandler {
	return logger.New(h)
}

//nolint:gocritic
func (h *LogRecorder) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelDebug && h.ignoreDebug {
		return nil
	}

	var sb strings.Builder
	for _, attr := range h.attrs {
		appendAttr(&sb, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&sb, a)
		return true
	})

	line := fmt.Sprintf("%s: %s", r.Level, r.Message)
	if sb.Len() > 0 {
		line += " " + sb.String()
	}

	h.shared.mu.Lock()
	h.shared.lines = append(h.shared.lines, line)
	h.shared.mu.Unlock()
	return nil
}

func appendAttr(sb *strings.Builder, a slog.Attr) {
	if sb.Len() > 0 {
		sb.WriteString(", ")
	}
	fmt.Fprintf(sb, "%s=%v", a.Key, a.Value)
}

func (h *LogRecorder) Enabled(_ context.Context, level slog.Level) bool {
	return !(level == slog.LevelDebug && h.ignoreDebug)
}

func (h *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogRecorder{
		shared:      h.shared,
		attrs:       append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		ignoreDebug: h.ignoreDebug,
	}
}

// WithGroup is accepted but groups are flattened.
func (h *LogRecorder) WithGroup(string) slog.Handler {
	return h
}

// Lines returns a copy of everything recorded so far.
func (h *LogRecorder) Lines() []string {
	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()
	return append([]string(nil), h.shared.lines...)
}

// Contains reports whether a recorded line contains substr.
func (h *LogRecorder) Contains(substr string) bool {
	for _, line := range h.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
