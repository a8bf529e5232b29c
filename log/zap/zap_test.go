package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/tiermap/kv"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Debug("retrying", kv.Fields{"attempt": 2})
	l.Warn("cache failed", kv.Fields{"err": errors.New("boom"), "key": "k"})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("levels: %v %v", entries[0].Level, entries[1].Level)
	}
	ctx := entries[1].ContextMap()
	if ctx["err"] != "boom" || ctx["key"] != "k" {
		t.Fatalf("fields: %v", ctx)
	}
}
