package httpapi

import (
	"context"
	"path/filepath"
	"testing"
)

func TestThumbnailForCachesFailureToAvoidThrashing(t *testing.T) {
	dir := t.TempDir()
	absPath := filepath.Join(dir, "source.mp4")
	cacheDir := filepath.Join(dir, "thumbs")

	if _, err := thumbnailFor(context.Background(), "ffmpeg-that-does-not-exist", cacheDir, absPath, 1); err == nil {
		t.Fatal("expected first generation attempt to fail")
	}

	if _, err := thumbnailFor(context.Background(), "ffmpeg-that-does-not-exist", cacheDir, absPath, 1); err != errRecentThumbFailure {
		t.Fatalf("expected cached failure on second call, got %v", err)
	}
}
