package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jota2rz/mediaviewer/internal/config"
	"github.com/jota2rz/mediaviewer/internal/deovr"
	"github.com/jota2rz/mediaviewer/internal/scanner"
	"github.com/jota2rz/mediaviewer/internal/store"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	cat := store.NewCatalog(db)

	state := syncstate.New()
	hub := syncstate.NewHub(state)
	go hub.Run()
	t.Cleanup(hub.Close)

	sc := scanner.New(dir, "ffprobe-that-does-not-exist", cat)
	hb := deovr.New(state, hub)
	t.Cleanup(hb.Close)

	cfg := config.Config{MediaRoot: dir, FFMpegPath: "ffmpeg-that-does-not-exist"}
	return New(cfg, cat, state, hub, sc, hb)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body["ok"] {
		t.Fatal("expected ok:true")
	}
}

func TestHandlePutSyncThenGetSync(t *testing.T) {
	s := newTestServer(t)

	putBody := `{"sessionId":"s1","clientId":"c1","mediaId":"m1","timeMs":5000,"paused":false,"fps":30,"frame":150}`
	putReq := httptest.NewRequest(http.MethodPut, "/sync", strings.NewReader(putBody))
	putW := httptest.NewRecorder()
	s.HandlePutSync(putW, putReq)

	if putW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", putW.Code, putW.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/sync?sessionId=s1", nil)
	getW := httptest.NewRecorder()
	s.HandleGetSync(getW, getReq)

	var got map[string]any
	if err := json.Unmarshal(getW.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["mediaId"] != "m1" {
		t.Fatalf("expected mediaId m1, got %v", got["mediaId"])
	}
	if got["timeMs"].(float64) != 5000 {
		t.Fatalf("expected timeMs 5000, got %v", got["timeMs"])
	}
}

func TestHandlePutSyncRejectsEmptyMediaID(t *testing.T) {
	s := newTestServer(t)
	putBody := `{"sessionId":"s1","clientId":"c1","mediaId":"","timeMs":0,"paused":true,"fps":30}`
	req := httptest.NewRequest(http.MethodPut, "/sync", strings.NewReader(putBody))
	w := httptest.NewRecorder()
	s.HandlePutSync(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleScanProgressReportsIdleInitially(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/scan/progress", nil)
	w := httptest.NewRecorder()
	s.HandleScanProgress(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["isScanning"] != false {
		t.Fatalf("expected isScanning false, got %v", body["isScanning"])
	}
}

func TestHandleMediaSearchEmptyCatalog(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/media?page=1&pageSize=10", nil)
	w := httptest.NewRecorder()
	s.HandleMediaSearch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["total"].(float64) != 0 {
		t.Fatalf("expected total 0, got %v", body["total"])
	}
}

func TestHandleMediaStreamUnknownIDReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/media/missing/stream", nil)
	w := httptest.NewRecorder()
	s.HandleMediaStream(w, req, "missing")

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRouterRegistersVRRoutesAheadOfCatchAll(t *testing.T) {
	s := newTestServer(t)
	mux := s.NewRouter(t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/deovr", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected /deovr to be handled directly, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["authorized"] != "0" {
		t.Fatalf("expected deovr library payload, got %v", body)
	}
}

func TestRouterHereSphereHasVersionHeader(t *testing.T) {
	s := newTestServer(t)
	mux := s.NewRouter("")

	req := httptest.NewRequest(http.MethodGet, "/heresphere", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Header().Get("HereSphere-JSON-Version") != "1" {
		t.Fatalf("expected HereSphere-JSON-Version header, got %q", w.Header().Get("HereSphere-JSON-Version"))
	}
}

func TestRouterMountsAPIUnderPrefix(t *testing.T) {
	s := newTestServer(t)
	mux := s.NewRouter("")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected /api/health to be handled, got %d", w.Code)
	}

	unprefixed := httptest.NewRequest(http.MethodGet, "/health", nil)
	uw := httptest.NewRecorder()
	mux.ServeHTTP(uw, unprefixed)
	if uw.Code == http.StatusOK {
		t.Fatal("expected unprefixed /health to no longer be routed directly")
	}
}

func TestRouterAppliesConfiguredCORSOrigin(t *testing.T) {
	s := newTestServer(t)
	s.Config.CORSOrigin = "https://example.com"
	mux := s.NewRouter("")

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS preflight, got %d", w.Code)
	}
}
