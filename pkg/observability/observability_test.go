package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	if !l.IsHealthy() {
		t.Fatal("noop logger should be healthy")
	}
	if l.WithRunID("run").WithStack("stack").WithNode("Bucket").WithField("k", 1) != l {
		t.Fatal("noop derivations should return the same logger")
	}
	l.Error("ignored")
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.GetStats() != (LoggerStats{}) {
		t.Fatal("noop stats should be empty")
	}
}

func TestTestLogger_RecordsScopedSanitizedEntries(t *testing.T) {
	root := NewTestLogger()
	root.WithRunID("01J000").WithStack("EarthdataDashboard-veda-dev").WithNode("AliasRecord").
		WithField("zone_name", "example.org").
		Warn("alias\nrecord skipped", map[string]any{"aws_session_token": "abc"})

	got := root.EntriesAt("warn")
	if len(got) != 1 {
		t.Fatalf("expected 1 warn entry, got %d", len(got))
	}
	e := got[0]
	switch {
	case e.Message != "aliasrecord skipped":
		t.Fatalf("message not sanitized: %q", e.Message)
	case e.RunID != "01J000" || e.Stack != "EarthdataDashboard-veda-dev" || e.Node != "AliasRecord":
		t.Fatalf("unexpected scope: %#v", e)
	case e.Fields["zone_name"] != "example.org":
		t.Fatalf("logger field lost: %#v", e.Fields)
	case e.Fields["aws_session_token"] != "[REDACTED]":
		t.Fatalf("token not redacted: %#v", e.Fields)
	case e.Timestamp.IsZero():
		t.Fatal("timestamp not set")
	}
	if n := len(root.EntriesAt("error")); n != 0 {
		t.Fatalf("expected no error entries, got %d", n)
	}
}

func TestTestLogger_DerivedShareRecording(t *testing.T) {
	root := NewTestLogger()
	root.WithNode("Bucket").Info("one")
	root.WithNode("Distribution").WithFields(map[string]any{"a": 1}).Error("two", map[string]any{"a": 2})

	entries := root.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Node != "Bucket" || entries[1].Node != "Distribution" {
		t.Fatalf("unexpected nodes: %q %q", entries[0].Node, entries[1].Node)
	}
	if entries[0].Fields["a"] != nil || entries[1].Fields["a"] != 2 {
		t.Fatalf("call fields should override logger fields: %#v", entries[1].Fields)
	}
	if got := root.GetStats().EntriesLogged; got != 2 {
		t.Fatalf("expected EntriesLogged=2, got %d", got)
	}
}

func TestTestLogger_FlushAndClose(t *testing.T) {
	l := NewTestLogger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Flush(ctx); err == nil {
		t.Fatal("expected canceled flush to fail")
	}
	if l.GetStats().FlushCount != 0 {
		t.Fatal("canceled flush should not count")
	}

	before := time.Now()
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats := l.GetStats()
	if stats.FlushCount != 1 || stats.LastFlush.Before(before) {
		t.Fatalf("unexpected stats after flush: %#v", stats)
	}

	child := l.WithNode("Bucket")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.IsHealthy() || child.IsHealthy() {
		t.Fatal("closing a logger should close its derived loggers")
	}
	child.Info("dropped")
	if n := len(l.Entries()); n != 0 {
		t.Fatalf("closed logger recorded %d entries", n)
	}
}
