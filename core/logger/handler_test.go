package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newFanoutWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:  slog.LevelInfo,
		writer: aw,
		format: formatKV,
	})
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithSessionMeta(ctx, "sess-1", "onboarding", "ask_name")

	log := slog.New(handler).With("component", "engine")
	log.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "step.run"),
		slog.String("status", "ok"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=engine", "event=step.run", "status=ok", "rid=rid-123", "session_id=sess-1", "scenario_id=onboarding", "step_id=ask_name"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newFanoutWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:  slog.LevelInfo,
		writer: aw,
		format: formatJSON,
	})

	log := slog.New(handler).With("component", "session.store")
	log.LogAttrs(context.Background(), slog.LevelError, "",
		slog.String("event", "save.fail"),
		slog.String("err", "boom"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed["component"] != "session.store" {
		t.Errorf("component = %v", parsed["component"])
	}
	if parsed["event"] != "save.fail" {
		t.Errorf("event = %v", parsed["event"])
	}
	if parsed["level"] != "ERROR" {
		t.Errorf("level = %v", parsed["level"])
	}
	// JSON keys must follow the pinned order for grep-friendly logs.
	if idxTS := strings.Index(line, `"ts"`); idxTS > strings.Index(line, `"event"`) {
		t.Errorf("ts should precede event: %s", line)
	}
}

func TestPruneEmptyDropsBlankFields(t *testing.T) {
	fields := map[string]any{"a": "", "b": "x", "c": nil}
	pruneEmpty(fields)
	if _, ok := fields["a"]; ok {
		t.Error("empty string not pruned")
	}
	if _, ok := fields["c"]; ok {
		t.Error("nil not pruned")
	}
	if fields["b"] != "x" {
		t.Error("non-empty value lost")
	}
}
