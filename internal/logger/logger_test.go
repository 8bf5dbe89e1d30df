package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")
	log.Info("dropped")
	log.Warn("kept", "order_id", "ORD-1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if rec["msg"] != "kept" || rec["order_id"] != "ORD-1" {
		t.Errorf("unexpected record: %v", rec)
	}
}
