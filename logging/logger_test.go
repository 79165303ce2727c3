package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level string) *slog.Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h)
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLogOperationSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	err := LogOperation(context.Background(), logger, "sync", func() error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected valid JSON log line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "operation_completed" {
		t.Fatalf("expected operation_completed, got %v", line["msg"])
	}
	if line["op"] != "sync" {
		t.Fatalf("expected op=sync, got %v", line["op"])
	}
}

func TestLogOperationFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	wantErr := errors.New("boom")
	err := LogOperation(context.Background(), logger, "append", func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected LogOperation to return the underlying error, got %v", err)
	}
	if !strings.Contains(buf.String(), "operation_failed") {
		t.Fatalf("expected operation_failed in log output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("expected error message in log output, got %q", buf.String())
	}
}
