package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, level Level) Logger {
	return NewLogger(WithLevel(level), WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(buf)))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, WarnLevel)
	l.Info("dropped")
	l.Warn("kept")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" || lines[0]["level"] != "WARN" {
		t.Fatalf("unexpected output: %v", lines)
	}
}

func TestSetLevelAppliesToDerived(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, InfoLevel)
	child := l.WithComponent("dispatch")
	l.SetLevel(ErrorLevel)
	child.Info("dropped")
	child.Error("kept")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "dispatch" {
		t.Fatalf("component missing: %v", lines[0])
	}
}

func TestFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, DebugLevel)
	l.With(Str("id", "m1"), Int("priority", 2)).Error("delete failed", Err(errors.New("boom")))
	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["id"] != "m1" || got["priority"] != float64(2) || got["error"] != "boom" {
		t.Fatalf("unexpected fields: %v", got)
	}
}

func TestApplyConfigRedactsAndSamples(t *testing.T) {
	l, err := ApplyConfig(&Config{Level: "debug", Format: "json", Outputs: []string{"null"}, Redact: []string{"password"}, SampleInitial: 1, SampleThereafter: 2})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	var buf bytes.Buffer
	bl := l.(*BaseLogger)
	bl.outputs = []Output{NewWriterOutput(&buf)}
	for i := 0; i < 4; i++ {
		l.Info("tick", Str("password", "hunter2"))
	}
	lines := decodeLines(t, &buf)
	// first passes, then every second one: records 0, 1, 3
	if len(lines) != 3 {
		t.Fatalf("want 3 sampled lines, got %d", len(lines))
	}
	if lines[0]["password"] != "[REDACTED]" {
		t.Fatalf("password not redacted: %v", lines[0])
	}
}

func TestApplyConfigRejectsUnknown(t *testing.T) {
	if _, err := ApplyConfig(&Config{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
}

func TestTextFormatterSortsFields(t *testing.T) {
	f := &TextFormatter{DisableTimestamp: true}
	b, err := f.Format(&Entry{Level: InfoLevel, Message: "hi", Fields: Fields{"b": 2, "a": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != "INFO  hi a=1 b=2\n" {
		t.Fatalf("got %q", got)
	}
}

func TestStdLoggerRoutes(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, InfoLevel)
	ToStdLogger(l, WarnLevel).Print("from std")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "from std" || lines[0]["level"] != "WARN" {
		t.Fatalf("unexpected: %v", lines)
	}
}
