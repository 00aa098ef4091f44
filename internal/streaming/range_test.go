package streaming

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseRangeFullSpec(t *testing.T) {
	r, err := parseRange("bytes=0-99", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if r.start != 0 || r.end != 99 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseRangeOpenEnded(t *testing.T) {
	r, err := parseRange("bytes=500-", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if r.start != 500 || r.end != 999 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseRangeSuffix(t *testing.T) {
	r, err := parseRange("bytes=-100", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if r.start != 900 || r.end != 999 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseRangeNoHeader(t *testing.T) {
	if _, err := parseRange("", 1000); err != errNoRange {
		t.Fatalf("expected errNoRange, got %v", err)
	}
}

func TestParseRangeMultipleRangesRejected(t *testing.T) {
	if _, err := parseRange("bytes=0-10,20-30", 1000); err != errBadRange {
		t.Fatalf("expected errBadRange, got %v", err)
	}
}

func TestParseRangeOutOfOrderRejected(t *testing.T) {
	if _, err := parseRange("bytes=500-100", 1000); err != errBadRange {
		t.Fatalf("expected errBadRange, got %v", err)
	}
}

func TestParseRangeClampsEndToSize(t *testing.T) {
	r, err := parseRange("bytes=0-999999", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if r.end != 999 {
		t.Fatalf("expected end clamped to 999, got %d", r.end)
	}
}

func TestContentTypeKnownExtension(t *testing.T) {
	if got := ContentType(".MP4", nil); got != "video/mp4" {
		t.Fatalf("expected video/mp4, got %s", got)
	}
}

func TestContentTypeFallsBackToSniffThenOctetStream(t *testing.T) {
	if got := ContentType(".xyz", func() string { return "" }); got != "application/octet-stream" {
		t.Fatalf("expected octet-stream, got %s", got)
	}
	if got := ContentType(".xyz", func() string { return "text/plain" }); got != "text/plain" {
		t.Fatalf("expected sniffed type, got %s", got)
	}
}

func writeTempFile(t *testing.T, body string) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return path, info.Size()
}

func TestServeFileFullResponse(t *testing.T) {
	path, size := writeTempFile(t, "0123456789")
	req := httptest.NewRequest(http.MethodGet, "/media/x/stream", nil)
	w := httptest.NewRecorder()

	if err := ServeFile(w, req, path, size, "video/mp4", nil); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "0123456789" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
	if w.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatal("expected Accept-Ranges: bytes")
	}
}

func TestServeFilePartialResponse(t *testing.T) {
	path, size := writeTempFile(t, "0123456789")
	req := httptest.NewRequest(http.MethodGet, "/media/x/stream", nil)
	req.Header.Set("Range", "bytes=2-4")
	w := httptest.NewRecorder()

	if err := ServeFile(w, req, path, size, "video/mp4", nil); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", w.Code)
	}
	if w.Body.String() != "234" {
		t.Fatalf("unexpected body: %q", w.Body.String())
	}
	if w.Header().Get("Content-Range") != "bytes 2-4/10" {
		t.Fatalf("unexpected content-range: %s", w.Header().Get("Content-Range"))
	}
}

func TestServeFileHeadStopsAfterHeaders(t *testing.T) {
	path, size := writeTempFile(t, "0123456789")
	req := httptest.NewRequest(http.MethodHead, "/media/x/stream", nil)
	w := httptest.NewRecorder()

	if err := ServeFile(w, req, path, size, "video/mp4", nil); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body for HEAD, got %q", w.Body.String())
	}
}

func TestServeFileMalformedRangeReturns416(t *testing.T) {
	path, size := writeTempFile(t, "0123456789")
	req := httptest.NewRequest(http.MethodGet, "/media/x/stream", nil)
	req.Header.Set("Range", "bytes=500-100")
	w := httptest.NewRecorder()

	if err := ServeFile(w, req, path, size, "video/mp4", nil); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", w.Code)
	}
	if w.Header().Get("Content-Range") != "bytes */10" {
		t.Fatalf("unexpected content-range: %s", w.Header().Get("Content-Range"))
	}
}

func TestIsDeoVRUserAgentSubstringMatch(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/media/x/stream", nil)
	req.Header.Set("User-Agent", "DeoVR/1.0")
	if !IsDeoVRUserAgent(req) {
		t.Fatal("expected DeoVR UA to match")
	}
}

func TestIsDeoVRUserAgentQueryOverride(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/media/x/stream?mvFrom=deovr", nil)
	if !IsDeoVRUserAgent(req) {
		t.Fatal("expected mvFrom=deovr to match")
	}
}

func TestIsDeoVRUserAgentDesktopOverrideWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/media/x/stream?mvFrom=desktop", nil)
	req.Header.Set("User-Agent", "DeoVR/1.0")
	if IsDeoVRUserAgent(req) {
		t.Fatal("expected mvFrom=desktop to override UA match")
	}
}

func TestServeFileVRHookFires(t *testing.T) {
	path, size := writeTempFile(t, "0123456789")
	req := httptest.NewRequest(http.MethodGet, "/media/x/stream", nil)
	w := httptest.NewRecorder()

	var started, finished, dataCalls int
	hook := &VRHook{
		OnStart: func() func() {
			started++
			return func() { finished++ }
		},
		OnData: func() { dataCalls++ },
	}

	if err := ServeFile(w, req, path, size, "video/mp4", hook); err != nil {
		t.Fatal(err)
	}
	if started != 1 || finished != 1 {
		t.Fatalf("expected OnStart/finish called once each, got started=%d finished=%d", started, finished)
	}
	if dataCalls == 0 {
		t.Fatal("expected OnData to be called at least once")
	}
}
