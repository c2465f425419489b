package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(&buf, "info", "json")
	t.Cleanup(func() { Configure(io.Discard, "info", "json") })
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestWithFields(t *testing.T) {
	buf := captureLogs(t)
	WithFields("addr", ":8090").Info("server listening")
	rec := decodeLine(t, buf)
	if rec["addr"] != ":8090" || rec["msg"] != "server listening" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLoggerFromContextAppendsFields(t *testing.T) {
	buf := captureLogs(t)
	ctx := ContextWithFields(context.Background(), "request_id", "r1")
	ctx = ContextWithFields(ctx, "path", "/api/chat")
	LoggerFromContext(ctx).Warn("request handled")
	rec := decodeLine(t, buf)
	if rec["request_id"] != "r1" || rec["path"] != "/api/chat" || rec["level"] != "WARN" {
		t.Fatalf("context fields missing: %v", rec)
	}
}

func TestConfigureLevel(t *testing.T) {
	if debugEnabled {
		t.Skip("KHAROM_DEBUG forces debug level")
	}
	buf := captureLogs(t)
	Configure(buf, "error", "text")
	Logger().Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at error level: %s", buf.String())
	}
}
