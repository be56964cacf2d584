package zap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ubzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/theory-cloud/sitetheory/pkg/observability"
)

func observed(t *testing.T, level zapcore.Level, opts ...Option) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(level)
	l, err := NewZapLogger(observability.LoggerConfig{RetryDelay: time.Millisecond},
		append([]Option{WithZapLogger(ubzap.New(core))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l.(*Logger), logs
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []observability.LogEntry
	fail    int
	calls   int
	block   chan struct{}
}

func (n *recordingNotifier) Notify(_ context.Context, entry observability.LogEntry) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.calls <= n.fail {
		return errors.New("publish failed")
	}
	n.entries = append(n.entries, entry)
	return nil
}

func (n *recordingNotifier) received() []observability.LogEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]observability.LogEntry(nil), n.entries...)
}

func TestLogger_ScopeAndFields(t *testing.T) {
	l, logs := observed(t, zapcore.DebugLevel)

	l.WithRunID("01HRUN").WithStack("EarthdataDashboard-veda-dev").WithNode("Bucket").
		WithField("kind", "bucket").
		Info("declared", map[string]any{"policy": "fatal"})

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "declared", entries[0].Message)
	assert.Equal(t, "01HRUN", ctx["run_id"])
	assert.Equal(t, "EarthdataDashboard-veda-dev", ctx["stack"])
	assert.Equal(t, "Bucket", ctx["node"])
	assert.Equal(t, "bucket", ctx["kind"])
	assert.Equal(t, "fatal", ctx["policy"])
	assert.EqualValues(t, 1, l.GetStats().EntriesLogged)
}

func TestLogger_SanitizesMessagesAndFields(t *testing.T) {
	l, logs := observed(t, zapcore.DebugLevel)

	l.Warn("line\r\nforged", map[string]any{
		"aws_secret_access_key": "wJalrXUtnFEMI",
		"certificate_arn":       "arn:aws:acm:us-east-1:123456789012:certificate/abc",
		"account_id":            "123456789012",
	})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	ctx := entry.ContextMap()
	assert.Equal(t, "lineforged", entry.Message)
	assert.Equal(t, "[REDACTED]", ctx["aws_secret_access_key"])
	assert.Equal(t, "arn:aws:acm:us-east-1:********9012:certificate/abc", ctx["certificate_arn"])
	assert.Equal(t, "********9012", ctx["account_id"])
}

func TestLogger_CustomSanitizer(t *testing.T) {
	l, logs := observed(t, zapcore.DebugLevel, WithSanitizer(func(string, any) any { return "x" }))
	l.Info("m", map[string]any{"bucket": "earthdata-dashboard-veda-dev"})
	assert.Equal(t, "x", logs.All()[0].ContextMap()["bucket"])
}

func TestLogger_DerivedLoggersAreIndependent(t *testing.T) {
	l, logs := observed(t, zapcore.DebugLevel)

	a := l.WithNode("Bucket")
	b := l.WithNode("Distribution")
	a.Info("a")
	b.Info("b")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Bucket", entries[0].ContextMap()["node"])
	assert.Equal(t, "Distribution", entries[1].ContextMap()["node"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, logs := observed(t, zapcore.WarnLevel)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "w", logs.All()[0].Message)
}

func TestLogger_ErrorsReachNotifier(t *testing.T) {
	n := &recordingNotifier{}
	l, _ := observed(t, zapcore.DebugLevel, WithErrorNotifier(n))

	log := l.WithRunID("01HRUN").WithStack("site").WithNode("AliasRecord").WithField("zone_name", "example.org")
	log.Warn("not forwarded")
	log.Error("alias record failed", map[string]any{"zone_name": "override.org", "session_token": "tok"})

	require.NoError(t, l.Flush(context.Background()))
	got := n.received()
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Level)
	assert.Equal(t, "alias record failed", got[0].Message)
	assert.Equal(t, "01HRUN", got[0].RunID)
	assert.Equal(t, "site", got[0].Stack)
	assert.Equal(t, "AliasRecord", got[0].Node)
	assert.Equal(t, "override.org", got[0].Fields["zone_name"])
	assert.Equal(t, "[REDACTED]", got[0].Fields["session_token"])
}

func TestLogger_NotifierRetriesThenReportsFailure(t *testing.T) {
	n := &recordingNotifier{fail: 2}
	l, _ := observed(t, zapcore.DebugLevel, WithErrorNotifier(n))

	l.Error("first")
	require.NoError(t, l.Flush(context.Background()))
	assert.Len(t, n.received(), 1)
	assert.True(t, l.IsHealthy())

	n.mu.Lock()
	n.fail, n.calls = 10, 0
	n.mu.Unlock()
	l.Error("second")
	require.NoError(t, l.Flush(context.Background()))

	assert.False(t, l.IsHealthy())
	stats := l.GetStats()
	assert.Equal(t, "publish failed", stats.LastError)
	assert.EqualValues(t, 1, stats.ErrorCount)
	assert.EqualValues(t, 2, stats.FlushCount)
}

func TestLogger_FullQueueDrops(t *testing.T) {
	n := &recordingNotifier{block: make(chan struct{})}
	core, _ := observer.New(zapcore.DebugLevel)
	l, err := NewZapLogger(observability.LoggerConfig{BufferSize: 1}, WithZapLogger(ubzap.New(core)), WithErrorNotifier(n))
	require.NoError(t, err)

	// One entry is held by the blocked notifier, one fills the buffer.
	for range 5 {
		l.Error("boom")
	}
	assert.GreaterOrEqual(t, l.GetStats().EntriesDropped, int64(3))

	close(n.block)
	require.NoError(t, l.Close())
	assert.NotEmpty(t, n.received())
}

func TestLogger_FlushHonorsContext(t *testing.T) {
	n := &recordingNotifier{block: make(chan struct{})}
	l, _ := observed(t, zapcore.DebugLevel, WithErrorNotifier(n))
	l.Error("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Flush(ctx))
	close(n.block)
}

func TestLogger_CloseIsFinal(t *testing.T) {
	l, logs := observed(t, zapcore.DebugLevel)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.Error("after close")
	assert.Zero(t, logs.Len())
	assert.False(t, l.IsHealthy())
}

func TestLogger_NilIsSafe(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.Flush(context.Background()))
	assert.NoError(t, l.Close())
	assert.False(t, l.IsHealthy())
	assert.Equal(t, observability.LoggerStats{}, l.GetStats())
}

func TestNewZapLogger_Config(t *testing.T) {
	for _, tc := range []struct {
		name    string
		cfg     observability.LoggerConfig
		wantErr bool
	}{
		{name: "defaults", cfg: observability.LoggerConfig{}},
		{name: "json", cfg: observability.LoggerConfig{Level: "debug", Format: "JSON"}},
		{name: "console with caller", cfg: observability.LoggerConfig{Level: "warning", Format: "console", EnableCaller: true, EnableStack: true}},
		{name: "bad level", cfg: observability.LoggerConfig{Level: "loud"}, wantErr: true},
		{name: "panic level", cfg: observability.LoggerConfig{Level: "panic"}, wantErr: true},
		{name: "bad format", cfg: observability.LoggerConfig{Format: "xml"}, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewZapLogger(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, l.Close())
		})
	}
}

func TestParseZapLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		" info ":  zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	} {
		got, err := parseZapLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestEncoderConfig(t *testing.T) {
	js := encoderConfig(formatJSON, false)
	assert.Equal(t, "timestamp", js.TimeKey)
	assert.Equal(t, "message", js.MessageKey)
	assert.Equal(t, zapcore.OmitKey, js.CallerKey)

	console := encoderConfig(formatConsole, true)
	assert.Equal(t, "caller", console.CallerKey)
	assert.NotNil(t, console.EncodeCaller)
}

func TestNormalizeLoggerConfig_Format(t *testing.T) {
	t.Setenv("CI", "true")
	assert.Equal(t, formatJSON, normalizeLoggerConfig(observability.LoggerConfig{}).Format)
	t.Setenv("CI", "")
	assert.Equal(t, formatConsole, normalizeLoggerConfig(observability.LoggerConfig{}).Format)
}
