package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func parseLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := bytes.TrimSpace(buf.Bytes())
	if len(line) == 0 {
		t.Fatal("no log output")
	}
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	return m
}

func TestBuild_LevelAndServiceStamp(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn", Service: "api"}, &buf)

	zl.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info line leaked through warn level: %s", buf.String())
	}

	zl.Warn().Msg("shown")
	m := parseLine(t, &buf)
	if m["msg"] != "shown" || m["service"] != "api" || m["level"] != "warn" {
		t.Fatalf("line = %v", m)
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("missing timestamp field: %v", m)
	}
}

func TestNewSlog_GroupsFlattenToDottedKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)

	log := NewSlog(&zl).WithGroup("req").With("id", 7)
	log.Info("handled", "status", 200)

	m := parseLine(t, &buf)
	if m["req.id"] != float64(7) || m["req.status"] != float64(200) {
		t.Fatalf("line = %v", m)
	}
	if m["msg"] != "handled" {
		t.Fatalf("msg = %v", m["msg"])
	}
}

func TestNewSlog_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "error"}, &buf)
	log := NewSlog(&zl)

	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info leaked through error level: %s", buf.String())
	}

	log.Error("loud", "err", "boom")
	m := parseLine(t, &buf)
	if m["err"] != "boom" || m["level"] != "error" {
		t.Fatalf("line = %v", m)
	}
}

func TestFromContext_CarriesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{}, &buf)

	ctx := WithComponent(WithRequestID(context.Background(), "req-1"), "http")
	FromContext(ctx, &zl).Info().Msg("in flight")

	m := parseLine(t, &buf)
	if m["request_id"] != "req-1" || m["component"] != "http" {
		t.Fatalf("line = %v", m)
	}
}

func TestWithRequestID_MintsWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")

	var buf bytes.Buffer
	zl := Build(Config{}, &buf)
	FromContext(ctx, &zl).Info().Msg("x")

	m := parseLine(t, &buf)
	id, _ := m["request_id"].(string)
	if len(id) != 16 {
		t.Fatalf("request_id = %q, want 16 hex chars", id)
	}
}
