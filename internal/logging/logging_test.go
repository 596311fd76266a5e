package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(Config{Level: "debug", Format: "json"}, &buf)
	l.With(String("leg_id", "L1")).Info(context.Background(), "computed", Int("segments", 3), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "computed" || rec["leg_id"] != "L1" || rec["segments"] != float64(3) || rec["error"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(Config{Level: "warn"}, &buf)
	l.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	l.Warn(context.Background(), "shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("warn not written: %q", buf.String())
	}
}

func TestRequestContextHelpers(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" || RequestIDFromContext(ctx) != id {
		t.Fatalf("request id not stored")
	}
	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id || ctx2 != ctx {
		t.Fatalf("existing request id should be kept")
	}

	if FromContext(context.Background(), nil) == nil {
		t.Fatalf("expected noop fallback")
	}
	l := Noop()
	if got := FromContext(ContextWithLogger(ctx, l), nil); got != l {
		t.Fatalf("logger not stored on context")
	}
}
