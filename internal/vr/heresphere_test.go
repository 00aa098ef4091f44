package vr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jota2rz/mediaviewer/internal/models"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
)

func TestHereSphereLibrarySetsVersionHeader(t *testing.T) {
	cat := newTestCatalog(t)
	h := &HereSphereHandlers{Catalog: cat, State: syncstate.New()}
	req := httptest.NewRequest(http.MethodGet, "/heresphere", nil)
	w := httptest.NewRecorder()
	h.Library(w, req)

	if got := w.Header().Get("HereSphere-JSON-Version"); got != "1" {
		t.Fatalf("expected version header 1, got %q", got)
	}
}

func TestHereSphereVideoIncludesFunscript(t *testing.T) {
	cat := newTestCatalog(t)
	stereo := models.StereoMono
	if err := cat.Upsert(models.MediaItem{
		ID: "m1", RelPath: "a.mp4", Filename: "a.mp4", Title: "A",
		MediaType: models.MediaVideo, VRStereo: &stereo, HasFunscript: true,
	}); err != nil {
		t.Fatal(err)
	}

	h := &HereSphereHandlers{Catalog: cat, State: syncstate.New()}
	req := httptest.NewRequest(http.MethodGet, "/heresphere/video/m1", nil)
	w := httptest.NewRecorder()
	h.Video(w, req, "m1")

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	scripts := body["scripts"].([]any)
	if len(scripts) != 1 {
		t.Fatalf("expected 1 script entry, got %d", len(scripts))
	}
}

func TestHereSphereEventMapsPauseStatesAndUpdatesSession(t *testing.T) {
	cat := newTestCatalog(t)
	state := syncstate.New()
	h := &HereSphereHandlers{Catalog: cat, State: state}

	body := `{"id":"/heresphere/video/m1","time":5000,"event":2,"connectionKey":"ck1"}`
	req := httptest.NewRequest(http.MethodPost, "/heresphere/event", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Event(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	sess := state.GetSession(syncstate.DefaultSessionID)
	if sess.MediaID == nil || *sess.MediaID != "m1" {
		t.Fatalf("expected mediaId m1, got %+v", sess)
	}
	if !sess.Paused {
		t.Fatal("expected event=2 to map to paused=true")
	}
	if sess.FromClientID != "vr:heresphere:ck1" {
		t.Fatalf("expected fromClientId vr:heresphere:ck1, got %q", sess.FromClientID)
	}
}

func TestHereSphereEventRejectsMissingID(t *testing.T) {
	cat := newTestCatalog(t)
	h := &HereSphereHandlers{Catalog: cat, State: syncstate.New()}

	req := httptest.NewRequest(http.MethodPost, "/heresphere/event", strings.NewReader(`{"id":"","time":0,"event":1}`))
	w := httptest.NewRecorder()
	h.Event(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHereSphereAuthReturnsAccess(t *testing.T) {
	cat := newTestCatalog(t)
	h := &HereSphereHandlers{Catalog: cat, State: syncstate.New()}

	req := httptest.NewRequest(http.MethodGet, "/heresphere/auth", nil)
	w := httptest.NewRecorder()
	h.Auth(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["access"].(float64) != 1 {
		t.Fatalf("expected access=1, got %v", body["access"])
	}
}
