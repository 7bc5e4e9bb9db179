package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Info().Str("flow", "1").Log("flow started")

	out := buf.String()
	if !strings.Contains(out, `"msg":"flow started"`) {
		t.Fatalf("expected message field in output, got %q", out)
	}
	if !strings.Contains(out, `"flow":"1"`) {
		t.Fatalf("expected flow field in output, got %q", out)
	}
}

func TestDiscardDoesNotPanic(t *testing.T) {
	l := Discard()
	l.Warning().Log("should go nowhere")
}
