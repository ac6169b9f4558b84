package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"PMCMirror/internal/config"
)

func TestNewWithWriterFormats(t *testing.T) {
	t.Parallel()

	var text bytes.Buffer
	NewWithWriter(&text, config.LoggingConfig{Level: "info"}).Info("run finished", "outcome", "success")
	if !strings.Contains(text.String(), "outcome=success") {
		t.Fatalf("unexpected text line %q", text.String())
	}

	var js bytes.Buffer
	NewWithWriter(&js, config.LoggingConfig{Level: "info", Format: "JSON"}).Info("run finished", "outcome", "success")
	var line map[string]any
	if err := json.Unmarshal(js.Bytes(), &line); err != nil {
		t.Fatalf("expected a json line, got %q: %v", js.String(), err)
	}
	if line["outcome"] != "success" || line["msg"] != "run finished" {
		t.Fatalf("unexpected json fields %v", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warning"})
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	if got := levelFromString("bogus"); got.String() != "DEBUG" {
		t.Fatalf("unknown levels fall back to debug, got %s", got)
	}
}
