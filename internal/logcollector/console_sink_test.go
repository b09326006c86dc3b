package logcollector

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestConsoleSink_LogFormatsStreamTag(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	sink.Log(Entry{Timestamp: time.Unix(0, 0).UTC(), IsStderr: true, Message: "boom"})

	out := buf.String()
	if !strings.Contains(out, "stderr") || !strings.Contains(out, "boom") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestConsoleSink_MarkStartIncludesStepWhenSet(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	sink.SetStepName("build")

	if err := sink.MarkStart(context.Background(), time.Now(), map[string]any{"x": 1}); err != nil {
		t.Fatalf("MarkStart: %v", err)
	}
	if !strings.Contains(buf.String(), "step build") {
		t.Fatalf("expected step name in banner, got: %q", buf.String())
	}
}

func TestConsoleSink_StoreResultReportsOutcome(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	if err := sink.StoreResult(context.Background(), true, map[string]any{"y": 2}); err != nil {
		t.Fatalf("StoreResult: %v", err)
	}
	if !strings.Contains(buf.String(), "success=true") {
		t.Fatalf("expected success=true in output, got: %q", buf.String())
	}
}
