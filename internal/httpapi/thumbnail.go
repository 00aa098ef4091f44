package httpapi

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	thumbnailTimeout = 10 * time.Second
	thumbFailTTL     = 15 * time.Minute
)

var errRecentThumbFailure = errors.New("httpapi: thumbnail generation failed recently, not retrying yet")

// thumbFailures records the last failed-generation time per cache key, the
// same way scanner.go's probe_cache avoids re-probing unchanged files —
// here it avoids re-invoking ffmpeg against a file that just failed.
var (
	thumbFailuresMu sync.Mutex
	thumbFailures   = make(map[string]time.Time)
)

func recentThumbFailure(key string) bool {
	thumbFailuresMu.Lock()
	defer thumbFailuresMu.Unlock()
	failedAt, ok := thumbFailures[key]
	if !ok {
		return false
	}
	if time.Since(failedAt) > thumbFailTTL {
		delete(thumbFailures, key)
		return false
	}
	return true
}

func recordThumbFailure(key string) {
	thumbFailuresMu.Lock()
	thumbFailures[key] = time.Now()
	thumbFailuresMu.Unlock()
}

// thumbnailFor returns the path to a cached JPEG thumbnail for a video,
// generating it on first request with a single-frame ffmpeg extraction.
// Shells out the same way probe.go and transcode.go do — one child
// process per call, stderr drained so it never blocks. A file that just
// failed to generate is not retried for thumbFailTTL, avoiding repeated
// ffmpeg spawns against a corrupt file or missing codec on every request.
func thumbnailFor(ctx context.Context, ffmpegPath, cacheDir, absPath string, modTime int64) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}

	h := sha1.Sum([]byte(absPath))
	name := hex.EncodeToString(h[:]) + "-" + strconv.FormatInt(modTime, 10) + ".jpg"
	outPath := filepath.Join(cacheDir, name)

	if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
		return outPath, nil
	}

	if recentThumbFailure(name) {
		return "", errRecentThumbFailure
	}

	ctx, cancel := context.WithTimeout(ctx, thumbnailTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-ss", "00:00:05", "-i", absPath, "-vframes", "1", "-vf", "scale=320:-1", "-y", outPath,
	)
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		recordThumbFailure(name)
		return "", err
	}
	return outPath, nil
}
