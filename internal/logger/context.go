package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds event-scoped logging context, threaded through the
// event bus so every log line emitted while a processor handles one
// event carries the same correlation fields.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	Processor string    // event-bus processor name (main, input, output, storage, acs)
	EventType string    // event type being processed
	BundleID  uint64    // local bundle-id, 0 if not bundle-scoped
	LinkName  string    // link name, empty if not link-scoped
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a processor about to handle an event.
func NewLogContext(processor string) *LogContext {
	return &LogContext{
		Processor: processor,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Processor: lc.Processor,
		EventType: lc.EventType,
		BundleID:  lc.BundleID,
		LinkName:  lc.LinkName,
		StartTime: lc.StartTime,
	}
}

// WithEvent returns a copy with the event type set
func (lc *LogContext) WithEvent(eventType string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.EventType = eventType
	}
	return clone
}

// WithBundle returns a copy with the bundle-id set
func (lc *LogContext) WithBundle(bundleID uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.BundleID = bundleID
	}
	return clone
}

// WithLink returns a copy with the link name set
func (lc *LogContext) WithLink(linkName string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.LinkName = linkName
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
