package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "md-ingest")

	log.Info(context.Background(), "should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got %q", buf.String())
	}

	log.Warn(context.Background(), "should appear")
	if buf.Len() == 0 {
		t.Fatal("expected output at configured level")
	}
}

func TestEventIncludesKeyValuesAndService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "md-ingest")

	log.Info(context.Background(), "venue connected", "venue", "binance", "symbols", 3)

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v (line: %s)", err, buf.String())
	}
	if decoded["service"] != "md-ingest" {
		t.Errorf("expected service=md-ingest, got %v", decoded["service"])
	}
	if decoded["venue"] != "binance" {
		t.Errorf("expected venue=binance, got %v", decoded["venue"])
	}
	if decoded["message"] != "venue connected" {
		t.Errorf("expected message field, got %v", decoded["message"])
	}
}

func TestWithAddsStaticFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "md-ingest")
	child := log.With("venue", "okx")

	child.Error(context.Background(), "disconnected")

	if !strings.Contains(buf.String(), `"venue":"okx"`) {
		t.Errorf("expected child logger to carry static field, got %s", buf.String())
	}
}

func TestTraceIDFromContextIsAttached(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "md-ingest")
	ctx := ContextWithTraceID(context.Background(), "abc-123")

	log.Info(ctx, "traced event")

	if !strings.Contains(buf.String(), `"trace_id":"abc-123"`) {
		t.Errorf("expected trace_id field, got %s", buf.String())
	}
}
