package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactsKeysAndSamples(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := New(l, Options{CacheErrorEvery: 2})

	for i := 0; i < 4; i++ {
		h.CacheError("get", "secret-key", errors.New("down"))
	}
	out := buf.String()
	if n := strings.Count(out, "tiermap.cache_error"); n != 2 {
		t.Fatalf("expected 2 sampled lines, got %d:\n%s", n, out)
	}
	if strings.Contains(out, "secret-key") {
		t.Fatalf("key leaked into log output:\n%s", out)
	}
}

func TestCustomRedactor(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := New(l, Options{Redact: func(string) string { return "<k>" }})

	h.SelfHeal("user:1", "value_decode")
	h.DurableError("replace", "user:1", errors.New("timeout"))
	out := buf.String()
	if !strings.Contains(out, "key=<k>") || !strings.Contains(out, "reason=value_decode") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "tiermap.durable_error") {
		t.Fatalf("durable error not logged:\n%s", out)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	h := New(nil, Options{})
	h.CacheRepaired("get", "k", "evicted")
	h.DurableError("get", "k", errors.New("x"))
}
