package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromFallsBackToProcessLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Replace(zap.New(core))
	defer Replace(nil)

	From(context.Background()).Info("hola")
	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
}

func TestFromUsesScopedLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	scoped := zap.New(core).With(RequestID("r-1"))
	ctx := ToContext(context.Background(), scoped)

	From(ctx).Info("scoped")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != "r-1" {
		t.Fatalf("request_id = %v", got)
	}
}

func TestIdempotencyKeyIsHashed(t *testing.T) {
	f := IdempotencyKey("retry-key")
	if f.String == "retry-key" || len(f.String) != 12 {
		t.Fatalf("unexpected field value %q", f.String)
	}
	if IdempotencyKey("").Type != zap.Skip().Type {
		t.Fatalf("empty key must be skipped")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "debug", "WARN": "warn", "": "info", "bogus": "info", "error": "error"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
