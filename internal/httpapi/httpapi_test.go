package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/tiermap"
	"github.com/unkn0wn-root/tiermap/cachestore"
	"github.com/unkn0wn-root/tiermap/durable"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	router  *gin.Engine
	backend *durable.MemoryBackend
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := durable.NewMemoryBackend()
	ds, err := durable.New(durable.Config{Namespace: "http", Backend: db})
	if err != nil {
		t.Fatalf("durable.New: %v", err)
	}
	cs, err := cachestore.New(cachestore.Config{Namespace: "http", Backend: cachestore.NewMemoryBackend()})
	if err != nil {
		t.Fatalf("cachestore.New: %v", err)
	}
	co, err := tiermap.NewCoordinator(tiermap.CoordinatorOptions{Durable: ds, Cache: cs})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	return &fixture{router: NewRouter(co, zap.New(core)), backend: db, logs: logs}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func b64(s string) string {
	b, _ := json.Marshal([]byte(s))
	return string(b[1 : len(b)-1])
}

func TestScenarioOverHTTP(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, http.MethodPost, "/v1/kv/1/put-if-absent", map[string][]byte{"value": []byte("A")})
	if w.Code != http.StatusOK || out["loaded"] != false {
		t.Fatalf("put-if-absent: %d %v", w.Code, out)
	}
	_, out = f.do(t, http.MethodPost, "/v1/kv/1/put-if-absent", map[string][]byte{"value": []byte("B")})
	if out["loaded"] != true || out["previous"] != b64("A") {
		t.Fatalf("second put-if-absent: %v", out)
	}
	_, out = f.do(t, http.MethodPost, "/v1/kv/1/cas", map[string][]byte{"old": []byte("A"), "new": []byte("C")})
	if out["swapped"] != true {
		t.Fatalf("cas: %v", out)
	}
	_, out = f.do(t, http.MethodPost, "/v1/kv/1/cas", map[string][]byte{"old": []byte("A"), "new": []byte("D")})
	if out["swapped"] != false {
		t.Fatalf("stale cas: %v", out)
	}
	_, out = f.do(t, http.MethodPut, "/v1/kv/1", map[string][]byte{"value": []byte("E")})
	if out["replaced"] != true || out["previous"] != b64("C") {
		t.Fatalf("replace: %v", out)
	}
	_, out = f.do(t, http.MethodGet, "/v1/kv/1", nil)
	if out["found"] != true || out["value"] != b64("E") {
		t.Fatalf("get: %v", out)
	}
	_, out = f.do(t, http.MethodPost, "/v1/kv/1/delete", map[string][]byte{"old": []byte("E")})
	if out["deleted"] != true {
		t.Fatalf("delete: %v", out)
	}
	w, out = f.do(t, http.MethodGet, "/v1/kv/1", nil)
	if w.Code != http.StatusOK || out["found"] != false {
		t.Fatalf("get after delete: %d %v", w.Code, out)
	}
}

func TestInvalidInputIsBadRequest(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodPost, "/v1/kv/k/put-if-absent", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing value: %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPut, "/v1/kv/k", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", rec.Code)
	}
}

func TestDurableFailureIsServiceUnavailable(t *testing.T) {
	f := newFixture(t)
	_ = f.backend.Close(context.Background())

	w, out := f.do(t, http.MethodPost, "/v1/kv/k/put-if-absent", map[string][]byte{"value": []byte("A")})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d %v", w.Code, out)
	}
	if out["request_id"] == "" || out["request_id"] == nil {
		t.Fatalf("error response must carry the request id: %v", out)
	}
}

func TestRequestIDIsPropagatedAndLogged(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("request id not echoed: %q", w.Header().Get(RequestIDHeader))
	}

	w, _ = f.do(t, http.MethodGet, "/healthz", nil)
	if len(w.Header().Get(RequestIDHeader)) != 36 {
		t.Fatalf("expected a generated uuid, got %q", w.Header().Get(RequestIDHeader))
	}

	entries := f.logs.FilterMessage("request").AllUntimed()
	if len(entries) != 2 || entries[0].ContextMap()["request_id"] != "abc-123" {
		t.Fatalf("access log: %+v", entries)
	}
}
