package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newJSONLogger(buf *bytes.Buffer, level Level) Logger {
	return NewLogger(&Config{
		Level:       level,
		ServiceName: "test-service",
		Environment: "testing",
		JSONFormat:  true,
		Output:      buf,
	})
}

func decodeLine(t *testing.T, b []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", b, err)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level to be info, got %s", cfg.Level)
	}
	if cfg.ServiceName != "penf-linker" {
		t.Errorf("expected default service name 'penf-linker', got %s", cfg.ServiceName)
	}
	if cfg.JSONFormat {
		t.Error("expected default JSONFormat to be false")
	}
	if cfg.File.Path != "" {
		t.Error("file output should be off by default")
	}
}

func TestNewLogger_NilConfig(t *testing.T) {
	if NewLogger(nil) == nil {
		t.Error("expected non-nil logger with nil config")
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	newJSONLogger(buf, LevelDebug).Info("test message", F("key", "value"))

	output := decodeLine(t, buf.Bytes())
	if output["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", output["message"])
	}
	if output["service_name"] != "test-service" {
		t.Errorf("expected service_name 'test-service', got %v", output["service_name"])
	}
	if output["environment"] != "testing" {
		t.Errorf("expected environment 'testing', got %v", output["environment"])
	}
	if output["key"] != "value" {
		t.Errorf("expected key 'value', got %v", output["key"])
	}
	if output["level"] != "info" {
		t.Errorf("expected level 'info', got %v", output["level"])
	}
}

func TestLogger_AllLevels(t *testing.T) {
	tests := []struct {
		name     string
		logFunc  func(Logger)
		expected string
	}{
		{"debug", func(l Logger) { l.Debug("debug message") }, "debug"},
		{"info", func(l Logger) { l.Info("info message") }, "info"},
		{"warn", func(l Logger) { l.Warn("warn message") }, "warn"},
		{"error", func(l Logger) { l.Error("error message") }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.logFunc(newJSONLogger(buf, LevelDebug))

			output := decodeLine(t, buf.Bytes())
			if output["level"] != tt.expected {
				t.Errorf("expected level %s, got %v", tt.expected, output["level"])
			}
		})
	}
}

func TestLogger_WithComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newJSONLogger(buf, LevelInfo).With(Component("resolver"), F("repository", "default"))
	log.Info("group linked")

	output := decodeLine(t, buf.Bytes())
	if output["component"] != "resolver" {
		t.Errorf("expected component 'resolver', got %v", output["component"])
	}
	if output["repository"] != "default" {
		t.Errorf("expected repository 'default', got %v", output["repository"])
	}
}

func TestLogger_FieldTypes(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newJSONLogger(buf, LevelInfo)

	log.Info("type test",
		F("string_field", "hello"),
		F("int_field", 42),
		F("float_field", 3.14),
		F("bool_field", true),
		F("duration_field", 5*time.Second),
		F("names", []string{"John", "Lennon"}),
		Err(errors.New("test error")),
	)

	output := decodeLine(t, buf.Bytes())
	if output["string_field"] != "hello" {
		t.Errorf("string_field mismatch: %v", output["string_field"])
	}
	if output["int_field"] != float64(42) {
		t.Errorf("int_field mismatch: %v", output["int_field"])
	}
	if output["bool_field"] != true {
		t.Errorf("bool_field mismatch: %v", output["bool_field"])
	}
	if output["error"] != "test error" {
		t.Errorf("error field mismatch: %v", output["error"])
	}
	names, ok := output["names"].([]interface{})
	if !ok || len(names) != 2 {
		t.Errorf("names field mismatch: %v", output["names"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newJSONLogger(buf, LevelWarn)

	log.Debug("debug - should not appear")
	log.Info("info - should not appear")
	log.Warn("warn - should appear")
	log.Error("error - should appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "warn - should appear") {
		t.Errorf("expected first line to be warn, got: %s", lines[0])
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{
		Level:       LevelInfo,
		ServiceName: "my-service",
		JSONFormat:  false,
		Output:      buf,
	})

	log.Info("console output test", F("document", "doc-1"))

	output := buf.String()
	if !strings.Contains(output, "console output test") {
		t.Errorf("console output should contain message: %s", output)
	}
	if !strings.Contains(output, "INF") {
		t.Errorf("console output should contain level indicator: %s", output)
	}
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linker.log")
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{
		Level:       LevelInfo,
		ServiceName: "file-test",
		JSONFormat:  true,
		Output:      buf,
		File:        FileConfig{Path: path},
	})

	log.Info("written twice")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written twice") {
		t.Errorf("log file should contain the line, got %q", data)
	}
	if !strings.Contains(buf.String(), "written twice") {
		t.Errorf("primary output should contain the line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level("invalid"), "info"},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input).String(); got != tt.expected {
				t.Errorf("parseLevel(%s) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger().With(F("a", 1))
	log.Info("discarded")
	if _, ok := log.(nopLogger); !ok {
		t.Errorf("With on a nop logger should stay nop, got %T", log)
	}
}

func TestLogger_WithKeepsParentClean(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := newJSONLogger(buf, LevelInfo)
	parent.With(Component("trigger")).Info("child")
	parent.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if decodeLine(t, []byte(lines[0]))["component"] != "trigger" {
		t.Errorf("child line should carry component: %s", lines[0])
	}
	if _, ok := decodeLine(t, []byte(lines[1]))["component"]; ok {
		t.Errorf("parent line should not carry component: %s", lines[1])
	}
}
