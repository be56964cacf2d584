package observability

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/theory-cloud/sitetheory/pkg/sanitization"
)

// recorder is the storage shared by a TestLogger and everything derived from it.
type recorder struct {
	mu        sync.Mutex
	entries   []LogEntry
	flushes   int64
	lastFlush time.Time
	closed    atomic.Bool
}

// TestLogger records entries in memory so tests can assert on what was logged.
type TestLogger struct {
	rec    *recorder
	fields map[string]any
	scope  LogEntry
}

var _ StructuredLogger = (*TestLogger)(nil)

func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &recorder{}, fields: map[string]any{}}
}

func (l *TestLogger) Entries() []LogEntry {
	if l == nil || l.rec == nil {
		return nil
	}
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return slices.Clone(l.rec.entries)
}

// EntriesAt returns the recorded entries with the given level.
func (l *TestLogger) EntriesAt(level string) []LogEntry {
	return slices.DeleteFunc(l.Entries(), func(e LogEntry) bool { return e.Level != level })
}

func (l *TestLogger) Debug(message string, fields ...map[string]any) {
	l.record("debug", message, fields)
}
func (l *TestLogger) Info(message string, fields ...map[string]any) {
	l.record("info", message, fields)
}
func (l *TestLogger) Warn(message string, fields ...map[string]any) {
	l.record("warn", message, fields)
}
func (l *TestLogger) Error(message string, fields ...map[string]any) {
	l.record("error", message, fields)
}

func (l *TestLogger) WithField(key string, value any) StructuredLogger {
	return l.WithFields(map[string]any{key: value})
}

func (l *TestLogger) WithFields(fields map[string]any) StructuredLogger {
	next := l.derive()
	maps.Copy(next.fields, fields)
	return next
}

func (l *TestLogger) WithRunID(runID string) StructuredLogger {
	next := l.derive()
	next.scope.RunID = runID
	return next
}

func (l *TestLogger) WithStack(stack string) StructuredLogger {
	next := l.derive()
	next.scope.Stack = stack
	return next
}

func (l *TestLogger) WithNode(node string) StructuredLogger {
	next := l.derive()
	next.scope.Node = node
	return next
}

func (l *TestLogger) Flush(ctx context.Context) error {
	if l == nil || l.rec == nil {
		return nil
	}
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	l.rec.mu.Lock()
	l.rec.flushes++
	l.rec.lastFlush = time.Now()
	l.rec.mu.Unlock()
	return nil
}

func (l *TestLogger) Close() error {
	if l != nil && l.rec != nil {
		l.rec.closed.Store(true)
	}
	return nil
}

func (l *TestLogger) IsHealthy() bool {
	return l != nil && l.rec != nil && !l.rec.closed.Load()
}

func (l *TestLogger) GetStats() LoggerStats {
	if l == nil || l.rec == nil {
		return LoggerStats{}
	}
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return LoggerStats{
		LastFlush:     l.rec.lastFlush,
		EntriesLogged: int64(len(l.rec.entries)),
		FlushCount:    l.rec.flushes,
	}
}

func (l *TestLogger) derive() *TestLogger {
	if l == nil || l.rec == nil {
		return NewTestLogger()
	}
	return &TestLogger{rec: l.rec, fields: maps.Clone(l.fields), scope: l.scope}
}

func (l *TestLogger) record(level, message string, sets []map[string]any) {
	if !l.IsHealthy() {
		return
	}

	fields := maps.Clone(l.fields)
	for _, set := range sets {
		maps.Copy(fields, set)
	}
	for k, v := range fields {
		fields[k] = sanitization.SanitizeFieldValue(k, v)
	}

	entry := l.scope
	entry.Timestamp = time.Now()
	entry.Level = level
	entry.Message = sanitization.SanitizeLogString(message)
	entry.Fields = fields

	l.rec.mu.Lock()
	l.rec.entries = append(l.rec.entries, entry)
	l.rec.mu.Unlock()
}

// NewNoOpLogger returns a logger that discards everything. It is the default global logger.
func NewNoOpLogger() StructuredLogger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...map[string]any)          {}
func (noopLogger) Info(string, ...map[string]any)           {}
func (noopLogger) Warn(string, ...map[string]any)           {}
func (noopLogger) Error(string, ...map[string]any)          {}
func (n noopLogger) WithField(string, any) StructuredLogger { return n }
func (n noopLogger) WithFields(map[string]any) StructuredLogger {
	return n
}
func (n noopLogger) WithRunID(string) StructuredLogger { return n }
func (n noopLogger) WithStack(string) StructuredLogger { return n }
func (n noopLogger) WithNode(string) StructuredLogger  { return n }
func (noopLogger) Flush(context.Context) error         { return nil }
func (noopLogger) Close() error                        { return nil }
func (noopLogger) IsHealthy() bool                     { return true }
func (noopLogger) GetStats() LoggerStats               { return LoggerStats{} }
