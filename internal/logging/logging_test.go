package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.Info().Str("job_id", "abc").Msg("job queued")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output, got %q", buf.String())
	}
	if entry["job_id"] != "abc" {
		t.Errorf("expected job_id abc, got %v", entry["job_id"])
	}
	if entry["message"] != "job queued" {
		t.Errorf("expected message, got %v", entry["message"])
	}
}

func TestNewLoggerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewLogger(&a, &b)
	logger.Info().Msg("hello")

	if !strings.Contains(a.String(), "hello") || !strings.Contains(b.String(), "hello") {
		t.Errorf("expected both writers to see the entry, got %q and %q", a.String(), b.String())
	}
}

func TestWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	if w := writer("json", &buf); w != &buf {
		t.Error("expected json to write straight through")
	}
	if _, ok := writer("console", &buf).(zerolog.ConsoleWriter); !ok {
		t.Error("expected a console writer")
	}
}
