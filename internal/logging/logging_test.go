package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestComponentTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := Component(base, "scanner")
	logger.Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line should be json: %v", err)
	}
	if line["component"] != "scanner" {
		t.Fatalf("component field missing: %#v", line)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", logger.GetLevel())
	}

	logger = NewLogger(Config{Level: "bogus"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", logger.GetLevel())
	}
}

func TestLogWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	if _, ok := logWriter(Config{Format: "console"}, &buf).(zerolog.ConsoleWriter); !ok {
		t.Fatal("console format should use ConsoleWriter")
	}
	if w := logWriter(Config{Format: "json"}, &buf); w != &buf {
		t.Fatal("json format should write straight to the output")
	}
}
