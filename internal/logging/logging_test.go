package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	id := uuid.MustParse("6f1c1e7a-5a8e-4c55-9d62-1f0f6f0c2b11")
	log.With(String("component", "driver")).Info(context.Background(), "trajectory committed",
		Spacecraft([]uuid.UUID{id}),
		Float64("time_min", 12.5),
		Bool("authority", true),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "trajectory committed" || rec["component"] != "driver" {
		t.Fatalf("record = %v, want msg and component", rec)
	}
	if rec["time_min"] != 12.5 || rec["authority"] != true || rec["error"] != "boom" {
		t.Fatalf("record = %v, want typed fields", rec)
	}
	ids, ok := rec["spacecraft"].([]any)
	if !ok || len(ids) != 1 || ids[0] != id.String() {
		t.Fatalf("spacecraft = %v, want [%s]", rec["spacecraft"], id)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q, want only warn-level record", out)
	}
}

func TestRequestIDIsLogged(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, log := WithRequestLogger(context.Background(), base)
	id := RequestIDFromContext(ctx)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("request id %q is not a uuid: %v", id, err)
	}
	if again, same := EnsureRequestID(ctx); again != ctx || same != id {
		t.Fatalf("EnsureRequestID replaced an existing id")
	}
	if FromContext(ctx, nil) != log {
		t.Fatalf("FromContext did not return the request logger")
	}

	log.Info(ctx, "pull")
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("output %q missing request id %s", buf.String(), id)
	}
}

func TestNoopAndFallback(t *testing.T) {
	n := Noop()
	n.With(Int("k", 1)).Error(context.Background(), "dropped")
	if FromContext(context.Background(), nil) == nil {
		t.Fatalf("FromContext without logger returned nil")
	}
	if Err(nil).Value != nil {
		t.Fatalf("Err(nil) = %v, want nil value", Err(nil).Value)
	}
}
