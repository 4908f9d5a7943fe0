package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records entries so package tests can check what an intake
// left in the log.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger captures all levels down to Trace, unsampled.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns every entry logged so far.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// Reset drops recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// ForQuote returns the entries correlated with ref through WithQuote.
func (t *TestLogger) ForQuote(ref string) []observer.LoggedEntry {
	return t.observed.Filter(func(e observer.LoggedEntry) bool {
		return e.ContextMap()["quote.ref"] == ref
	}).All()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.find(level, msg) == nil {
		tb.Errorf("expected %v log containing %q, got %s", level, msg, t.summary())
	}
}

// AssertNotLogged fails tb if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if e := t.find(level, msg); e != nil {
		tb.Errorf("unexpected %v log %q", level, e.Message)
	}
}

// AssertField fails tb unless an entry with message msg carries key=want.
// zap stores integers as int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if v, ok := e.ContextMap()[key]; ok && v == want {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v, got %s", msg, key, want, t.summary())
}

// AssertQuoteLogged fails tb unless msg was logged with quote.ref=ref.
func (t *TestLogger) AssertQuoteLogged(tb testing.TB, ref, msg string) {
	tb.Helper()
	for _, e := range t.ForQuote(ref) {
		if strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("no %q entry for quote %s, got %s", msg, ref, t.summary())
}

func (t *TestLogger) find(level zapcore.Level, msg string) *observer.LoggedEntry {
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return &e
		}
	}
	return nil
}

// summary lists level and message of each entry, one per line.
func (t *TestLogger) summary() string {
	var b strings.Builder
	for _, e := range t.observed.All() {
		b.WriteString("\n  ")
		b.WriteString(e.Level.String())
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	return b.String()
}
