package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/tiermap/kv"
)

func TestLogrusLoggerFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(base)}

	l.Warn("cache failed", kv.Fields{"op": "get", "key": "k"})

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.WarnLevel || e.Message != "cache failed" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Data["op"] != "get" || e.Data["key"] != "k" {
		t.Fatalf("fields: %v", e.Data)
	}
}
