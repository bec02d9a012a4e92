package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry in memory.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger records entries down to TraceLevel.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, logs: logs}
}

// Entries returns what has been logged so far.
func (t *TestLogger) Entries() []observer.LoggedEntry { return t.logs.All() }

// Reset drops the recorded entries.
func (t *TestLogger) Reset() { t.logs.TakeAll() }

// matching returns entries whose message contains msg. A nil level
// matches every level.
func (t *TestLogger) matching(level *zapcore.Level, msg string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, e := range t.logs.All() {
		if (level == nil || e.Level == *level) && strings.Contains(e.Message, msg) {
			out = append(out, e)
		}
	}
	return out
}

func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if len(t.matching(&level, msg)) == 0 {
		tb.Errorf("no %v entry containing %q; have %s", level, msg, t.summary())
	}
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if n := len(t.matching(&level, msg)); n > 0 {
		tb.Errorf("%d unexpected %v entries containing %q", n, level, msg)
	}
}

// AssertField passes when some entry containing msg has key == expected.
// Integer fields decode as int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	entries := t.matching(nil, msg)
	for _, e := range entries {
		if v, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(v, expected) {
			return
		}
	}
	tb.Errorf("no entry containing %q with %s=%v (%d candidates)", msg, key, expected, len(entries))
}

func (t *TestLogger) summary() string {
	var b strings.Builder
	for i, e := range t.logs.All() {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Level.String() + " " + e.Message)
	}
	if b.Len() == 0 {
		return "nothing"
	}
	return b.String()
}
