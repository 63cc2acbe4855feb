package logging

import (
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry written through its Logger so tests can
// assert on batch and point correlation.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger capturing all levels.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core)},
		observed: observed,
	}
}

// All returns every captured entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// ForPoint returns the entries tagged with point.id pointID.
func (t *TestLogger) ForPoint(pointID string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, e := range t.observed.All() {
		if e.ContextMap()["point.id"] == pointID {
			out = append(out, e)
		}
	}
	return out
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("no %v entry containing %q in %d entries", level, msg, t.observed.Len())
}

// AssertField fails tb unless an entry with message msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		got, ok := e.ContextMap()[key]
		if ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}

// AssertPoint fails tb unless the point logged msg with its batch id and,
// when traced is set, a trace id.
func (t *TestLogger) AssertPoint(tb testing.TB, batchID, pointID, msg string, traced bool) {
	tb.Helper()
	for _, e := range t.ForPoint(pointID) {
		if e.Message != msg {
			continue
		}
		fields := e.ContextMap()
		if fields["batch.id"] != batchID {
			tb.Errorf("%q for point %s has batch.id %v, want %s", msg, pointID, fields["batch.id"], batchID)
		}
		if _, ok := fields["trace_id"]; traced && !ok {
			tb.Errorf("%q for point %s has no trace_id", msg, pointID)
		}
		return
	}
	tb.Errorf("point %s never logged %q", pointID, msg)
}

var (
	secretKeys     = []string{"api_key", "apikey", "password", "token", "secret", "dsn", "authorization"}
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)bearer\s+\S+`),
		regexp.MustCompile(`(?i)(api[_-]?key|token)=[^&\s\[]+`),
	}
	// url.URL.Redacted writes the password as xxxxx.
	userinfo = regexp.MustCompile(`(postgres(ql)?|nats|https?)://[^:/\s@]+:([^@\s]+)@`)
)

// AssertNoSecrets fails tb when a captured message or string field holds an
// unredacted credential, service key or connection string.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	leaks := func(s string) bool {
		for _, re := range secretPatterns {
			if re.MatchString(s) {
				return true
			}
		}
		for _, m := range userinfo.FindAllStringSubmatch(s, -1) {
			if m[3] != "xxxxx" && !strings.Contains(m[3], "[REDACTED") {
				return true
			}
		}
		return false
	}
	for _, e := range t.observed.All() {
		if leaks(e.Message) {
			tb.Errorf("credential in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			key := strings.ToLower(f.Key)
			for _, k := range secretKeys {
				if strings.Contains(key, k) && f.String != "" && !strings.Contains(f.String, "[REDACTED]") {
					tb.Errorf("field %q not redacted", f.Key)
				}
			}
			if leaks(f.String) {
				tb.Errorf("credential in field %q: %q", f.Key, f.String)
			}
		}
	}
}
