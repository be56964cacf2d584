// Package zap backs observability.StructuredLogger with go.uber.org/zap. Error entries can
// additionally be forwarded to an ErrorNotifier (SNS) from a background queue.
package zap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	ubzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/theory-cloud/sitetheory/pkg/observability"
	"github.com/theory-cloud/sitetheory/pkg/sanitization"
)

const (
	levelDebug = "debug"
	levelInfo  = "info"
	levelWarn  = "warn"
	levelError = "error"

	formatJSON    = "json"
	formatConsole = "console"
)

type Option func(*loggerOptions)

type loggerOptions struct {
	initErr error

	base      *ubzap.Logger
	sanitizer observability.SanitizerFunc
	notifier  observability.ErrorNotifier
}

// WithZapLogger writes through an existing zap logger instead of building one from config.
func WithZapLogger(logger *ubzap.Logger) Option {
	return func(opts *loggerOptions) {
		opts.base = logger
	}
}

// WithSanitizer replaces the field sanitizer. A nil sanitizer keeps the default.
func WithSanitizer(fn observability.SanitizerFunc) Option {
	return func(opts *loggerOptions) {
		if fn != nil {
			opts.sanitizer = fn
		}
	}
}

func WithErrorNotifier(notifier observability.ErrorNotifier) Option {
	return func(opts *loggerOptions) {
		opts.notifier = notifier
	}
}

// scope locates an entry within one apply of one stack.
type scope struct {
	runID string
	stack string
	node  string
}

type counters struct {
	logged     atomic.Int64
	dropped    atomic.Int64
	flushes    atomic.Int64
	errors     atomic.Int64
	lastFlush  atomic.Int64
	flushNanos atomic.Int64
	lastError  atomic.Pointer[string]
}

func (c *counters) fail(err error) {
	if err == nil {
		return
	}
	c.errors.Add(1)
	msg := err.Error()
	c.lastError.Store(&msg)
}

func (c *counters) lastErr() string {
	if p := c.lastError.Load(); p != nil {
		return *p
	}
	return ""
}

// shared is the state every logger derived from one NewZapLogger call points at.
type shared struct {
	base     *ubzap.Logger
	sanitize observability.SanitizerFunc
	queue    *notifyQueue
	stats    *counters
	closed   atomic.Bool
}

type Logger struct {
	shared *shared
	zl     *ubzap.Logger
	fields map[string]any
	scope  scope
}

var _ observability.StructuredLogger = (*Logger)(nil)

func NewZapLogger(config observability.LoggerConfig, options ...Option) (observability.StructuredLogger, error) {
	cfg := normalizeLoggerConfig(config)

	opts := &loggerOptions{sanitizer: sanitization.SanitizeFieldValue}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	if opts.initErr != nil {
		return nil, opts.initErr
	}

	base := opts.base
	if base == nil {
		built, err := buildBase(cfg)
		if err != nil {
			return nil, err
		}
		base = built
	}

	s := &shared{base: base, sanitize: opts.sanitizer, stats: &counters{}}
	if opts.notifier != nil {
		s.queue = newNotifyQueue(opts.notifier, cfg.BufferSize, cfg.MaxRetries, cfg.RetryDelay, s.stats)
	}
	return &Logger{shared: s, zl: base, fields: map[string]any{}}, nil
}

func normalizeLoggerConfig(config observability.LoggerConfig) observability.LoggerConfig {
	cfg := config
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = formatConsole
		if isCI() {
			cfg.Format = formatJSON
		}
	}
	if strings.TrimSpace(cfg.Level) == "" {
		cfg.Level = levelInfo
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return cfg
}

func isCI() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CI"))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func buildBase(cfg observability.LoggerConfig) (*ubzap.Logger, error) {
	level, err := parseZapLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case formatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig(formatJSON, cfg.EnableCaller))
	case formatConsole:
		encoder = zapcore.NewConsoleEncoder(encoderConfig(formatConsole, cfg.EnableCaller))
	default:
		return nil, fmt.Errorf("observability/zap: unsupported log format %q", cfg.Format)
	}

	// stdout carries plan output and synthesized templates, so logs go to stderr.
	var zopts []ubzap.Option
	if cfg.EnableCaller {
		zopts = append(zopts, ubzap.AddCaller(), ubzap.AddCallerSkip(2))
	}
	if cfg.EnableStack {
		zopts = append(zopts, ubzap.AddStacktrace(zapcore.ErrorLevel))
	}
	return ubzap.New(zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level), zopts...), nil
}

func parseZapLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = levelWarn
	}
	switch level {
	case levelDebug, levelInfo, levelWarn, levelError:
		return zapcore.ParseLevel(level)
	case "":
		return zapcore.InfoLevel, nil
	default:
		return 0, fmt.Errorf("observability/zap: unsupported log level %q", level)
	}
}

func encoderConfig(format string, withCaller bool) zapcore.EncoderConfig {
	var enc zapcore.EncoderConfig
	if format == formatConsole {
		enc = ubzap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		enc = ubzap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.MessageKey = "message"
		enc.EncodeTime = zapcore.RFC3339TimeEncoder
		enc.EncodeDuration = zapcore.StringDurationEncoder
	}
	enc.NameKey = zapcore.OmitKey
	enc.FunctionKey = zapcore.OmitKey
	enc.StacktraceKey = "stacktrace"
	enc.CallerKey = zapcore.OmitKey
	if withCaller {
		enc.CallerKey = "caller"
		enc.EncodeCaller = zapcore.ShortCallerEncoder
	}
	return enc
}

func (l *Logger) Debug(message string, fields ...map[string]any) {
	l.log(zapcore.DebugLevel, message, fields)
}

func (l *Logger) Info(message string, fields ...map[string]any) {
	l.log(zapcore.InfoLevel, message, fields)
}

func (l *Logger) Warn(message string, fields ...map[string]any) {
	l.log(zapcore.WarnLevel, message, fields)
}

func (l *Logger) Error(message string, fields ...map[string]any) {
	l.log(zapcore.ErrorLevel, message, fields)
}

func (l *Logger) WithField(key string, value any) observability.StructuredLogger {
	return l.WithFields(map[string]any{key: value})
}

func (l *Logger) WithFields(fields map[string]any) observability.StructuredLogger {
	next := l.derive()
	for k, v := range fields {
		next.fields[k] = v
	}
	next.zl = next.zl.With(l.zapFields(fields)...)
	return next
}

func (l *Logger) WithRunID(runID string) observability.StructuredLogger {
	next := l.derive()
	next.scope.runID = runID
	next.zl = next.zl.With(ubzap.String("run_id", sanitization.SanitizeLogString(runID)))
	return next
}

func (l *Logger) WithStack(stack string) observability.StructuredLogger {
	next := l.derive()
	next.scope.stack = stack
	next.zl = next.zl.With(ubzap.String("stack", sanitization.SanitizeLogString(stack)))
	return next
}

func (l *Logger) WithNode(node string) observability.StructuredLogger {
	next := l.derive()
	next.scope.node = node
	next.zl = next.zl.With(ubzap.String("node", sanitization.SanitizeLogString(node)))
	return next
}

// Flush syncs the zap core and waits, bounded by ctx, for queued notifications.
func (l *Logger) Flush(ctx context.Context) error {
	if l == nil || l.shared == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s := l.shared

	start := time.Now()
	s.stats.flushes.Add(1)
	err := s.base.Sync()
	s.stats.fail(err)
	s.queue.drain(ctx)

	s.stats.lastFlush.Store(time.Now().UnixNano())
	s.stats.flushNanos.Add(time.Since(start).Nanoseconds())
	return err
}

// Close stops the notification queue after delivering what it holds and syncs the core.
func (l *Logger) Close() error {
	if l == nil || l.shared == nil {
		return nil
	}
	s := l.shared
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.queue.stop()
	err := s.base.Sync()
	s.stats.fail(err)
	return err
}

func (l *Logger) IsHealthy() bool {
	if l == nil || l.shared == nil || l.shared.closed.Load() {
		return false
	}
	return l.shared.stats.lastErr() == ""
}

func (l *Logger) GetStats() observability.LoggerStats {
	if l == nil || l.shared == nil {
		return observability.LoggerStats{}
	}
	st := l.shared.stats
	flushes := st.flushes.Load()
	var avg time.Duration
	if flushes > 0 {
		avg = time.Duration(st.flushNanos.Load() / flushes)
	}
	return observability.LoggerStats{
		LastFlush:      time.Unix(0, st.lastFlush.Load()),
		LastError:      st.lastErr(),
		EntriesLogged:  st.logged.Load(),
		EntriesDropped: st.dropped.Load(),
		FlushCount:     flushes,
		ErrorCount:     st.errors.Load(),
		AverageFlush:   avg,
	}
}

func (l *Logger) derive() *Logger {
	fields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{shared: l.shared, zl: l.zl, fields: fields, scope: l.scope}
}

func (l *Logger) log(level zapcore.Level, message string, sets []map[string]any) {
	if l == nil || l.shared == nil || l.zl == nil || l.shared.closed.Load() {
		return
	}

	message = sanitization.SanitizeLogString(message)
	call := map[string]any{}
	for _, set := range sets {
		for k, v := range set {
			call[k] = v
		}
	}

	if ce := l.zl.Check(level, message); ce != nil {
		ce.Write(l.zapFields(call)...)
	}
	l.shared.stats.logged.Add(1)

	if level >= zapcore.ErrorLevel && l.shared.queue != nil {
		l.shared.queue.push(l.entry(level, message, call))
	}
}

func (l *Logger) zapFields(fields map[string]any) []ubzap.Field {
	out := make([]ubzap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, ubzap.Any(k, l.shared.sanitize(k, v)))
	}
	return out
}

// entry builds the notification payload. Call fields override logger fields.
func (l *Logger) entry(level zapcore.Level, message string, call map[string]any) observability.LogEntry {
	fields := make(map[string]any, len(l.fields)+len(call))
	for _, set := range []map[string]any{l.fields, call} {
		for k, v := range set {
			fields[k] = l.shared.sanitize(k, v)
		}
	}
	return observability.LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
		RunID:     l.scope.runID,
		Stack:     l.scope.stack,
		Node:      l.scope.node,
	}
}
