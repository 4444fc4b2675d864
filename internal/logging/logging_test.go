package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_LevelSelection(t *testing.T) {
	debug := New("debug", "text")
	if !debug.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}

	errOnly := New("error", "text")
	if errOnly.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be disabled at error level")
	}

	fallback := New("", "text")
	if fallback.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected unknown level to fall back to info")
	}
}

func TestNew_JSONFormat(t *testing.T) {
	if New("info", "json") == nil {
		t.Fatal("expected non-nil logger for JSON format")
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RequestID(ctx); id != "" {
		t.Errorf("expected empty request id, got %q", id)
	}

	ctx = WithRequestID(ctx, "req_abc")
	if id := RequestID(ctx); id != "req_abc" {
		t.Errorf("expected req_abc, got %q", id)
	}

	ctx = WithRequestID(ctx, "req_def")
	if id := RequestID(ctx); id != "req_def" {
		t.Errorf("expected the later request id to win, got %q", id)
	}
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger")
	}

	custom := New("debug", "json")
	ctx := WithLogger(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("expected the context's logger back")
	}
}

func TestL_BindsRequestID(t *testing.T) {
	base := New("info", "text")
	ctx := WithLogger(context.Background(), base)

	// Without a request id, L returns the context logger unchanged.
	if L(ctx) != base {
		t.Error("expected the bare context logger without a request id")
	}

	// With one, L returns a derived logger carrying the id.
	ctx = WithRequestID(ctx, "req_123")
	if L(ctx) == base {
		t.Error("expected a derived logger once a request id is present")
	}
}
