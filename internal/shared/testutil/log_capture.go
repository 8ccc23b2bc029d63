package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// CapturedRecord is one log record seen by a CaptureHandler.
type CapturedRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CaptureHandler is a slog.Handler that records everything it sees, so tests
// can assert on what a component logged.
type CaptureHandler struct {
	mu      sync.Mutex
	records []CapturedRecord
	attrs   []slog.Attr
}

// NewCaptureLogger returns a logger writing into a fresh CaptureHandler.
func NewCaptureLogger() (*slog.Logger, *CaptureHandler) {
	h := &CaptureHandler{}
	return slog.New(h), h
}

// Enabled implements slog.Handler; everything is captured.
func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler.
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, CapturedRecord{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

// WithAttrs implements slog.Handler. Derived handlers share the record sink.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derivedCapture{parent: h, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

// WithGroup implements slog.Handler. Groups are flattened for test purposes.
func (h *CaptureHandler) WithGroup(string) slog.Handler { return h }

// Records returns a copy of everything captured so far.
func (h *CaptureHandler) Records() []CapturedRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CapturedRecord, len(h.records))
	copy(out, h.records)
	return out
}

// HasMessage reports whether any record at the given level contains msg.
func (h *CaptureHandler) HasMessage(level slog.Level, msg string) bool {
	for _, r := range h.Records() {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

// derivedCapture funnels records from With-derived loggers back to the root
// handler so Records sees everything.
type derivedCapture struct {
	parent *CaptureHandler
	attrs  []slog.Attr
}

func (d *derivedCapture) Enabled(context.Context, slog.Level) bool { return true }

func (d *derivedCapture) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range d.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	d.parent.mu.Lock()
	defer d.parent.mu.Unlock()
	d.parent.records = append(d.parent.records, CapturedRecord{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (d *derivedCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derivedCapture{parent: d.parent, attrs: append(append([]slog.Attr{}, d.attrs...), attrs...)}
}

func (d *derivedCapture) WithGroup(string) slog.Handler { return d }
