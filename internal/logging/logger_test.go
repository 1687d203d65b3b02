package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var first logEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if first.Level != LevelWarn {
		t.Errorf("expected level warn, got %s", first.Level)
	}
	if first.Message != "warn message" {
		t.Errorf("unexpected message: %s", first.Message)
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithService("test-service"))

	logger.Info("processing", "tenant_id", "t-1", "count", 3)

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}

	if entry.Service != "test-service" {
		t.Errorf("expected service test-service, got %s", entry.Service)
	}
	if entry.Fields["tenant_id"] != "t-1" {
		t.Errorf("expected tenant_id field, got %v", entry.Fields)
	}
	if entry.Fields["count"] != float64(3) {
		t.Errorf("expected count field 3, got %v", entry.Fields["count"])
	}
}

func TestLoggerCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))

	logger.Info("request", "correlation_id", "abc-123", "path", "/ingest")

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}

	if entry.CorrelationID != "abc-123" {
		t.Errorf("expected correlation ID abc-123, got %s", entry.CorrelationID)
	}
	if _, ok := entry.Fields["correlation_id"]; ok {
		t.Error("correlation_id should not appear in fields")
	}
	if entry.Fields["path"] != "/ingest" {
		t.Errorf("expected path field, got %v", entry.Fields)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))

	ctx := WithCorrelationID(context.Background(), "ctx-id-42")
	logger.InfoWithContext(ctx, "handled")

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}

	if entry.CorrelationID != "ctx-id-42" {
		t.Errorf("expected correlation ID from context, got %s", entry.CorrelationID)
	}
}

func TestParseFieldsOddCount(t *testing.T) {
	correlationID, fields := parseFields([]interface{}{"key1", "value1", "dangling"})

	if correlationID != "" {
		t.Errorf("expected empty correlation ID, got %s", correlationID)
	}
	if fields["key1"] != "value1" {
		t.Errorf("expected key1=value1, got %v", fields)
	}
	if _, ok := fields["dangling"]; ok {
		t.Error("dangling key without value should be dropped")
	}
}
