// Package observability defines the logging surface shared by the stack definition, the
// engines and the command line tools, plus in-memory and no-op implementations.
package observability

import (
	"context"
	"time"
)

// StructuredLogger writes leveled messages with map fields. Loggers derived with the
// With* methods share their parent's output and statistics.
type StructuredLogger interface {
	Debug(message string, fields ...map[string]any)
	Info(message string, fields ...map[string]any)
	Warn(message string, fields ...map[string]any)
	Error(message string, fields ...map[string]any)

	WithField(key string, value any) StructuredLogger
	WithFields(fields map[string]any) StructuredLogger

	// WithRunID scopes entries to one apply of a graph.
	WithRunID(runID string) StructuredLogger
	// WithStack scopes entries to a stack name.
	WithStack(stack string) StructuredLogger
	// WithNode scopes entries to one node of the graph.
	WithNode(node string) StructuredLogger

	Flush(ctx context.Context) error
	Close() error
	IsHealthy() bool
	GetStats() LoggerStats
}

// LogEntry is one recorded or forwarded entry.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Stack     string         `json:"stack,omitempty"`
	Node      string         `json:"node,omitempty"`
}

// SanitizerFunc rewrites a field value before it is written.
type SanitizerFunc func(key string, value any) any

// ErrorNotifier receives error entries out of band, e.g. by publishing them to SNS.
type ErrorNotifier interface {
	Notify(ctx context.Context, entry LogEntry) error
}

type LoggerConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`

	// Notification queue settings.
	BufferSize int           `json:"buffer_size" yaml:"buffer_size"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	EnableCaller bool `json:"enable_caller" yaml:"enable_caller"`
	EnableStack  bool `json:"enable_stack" yaml:"enable_stack"`
}

type LoggerStats struct {
	EntriesLogged  int64         `json:"entries_logged"`
	EntriesDropped int64         `json:"entries_dropped"`
	FlushCount     int64         `json:"flush_count"`
	ErrorCount     int64         `json:"error_count"`
	LastFlush      time.Time     `json:"last_flush"`
	LastError      string        `json:"last_error,omitempty"`
	AverageFlush   time.Duration `json:"average_flush_time"`
}

type LoggerFactory interface {
	CreateConsoleLogger(config LoggerConfig) (StructuredLogger, error)
	CreateTestLogger() StructuredLogger
	CreateNoOpLogger() StructuredLogger
}
