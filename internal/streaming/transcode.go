package streaming

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os/exec"

	"github.com/jota2rz/mediaviewer/internal/metrics"
)

// transcodeArgs are the exact ffmpeg flags spec'd for the h264
// pass-through fallback: fragmented MP4 so the browser can start playing
// before ffmpeg finishes, piped straight to stdout.
var transcodeArgs = []string{
	"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
	"-c:a", "aac", "-b:a", "160k",
	"-movflags", "frag_keyframe+empty_moov+default_base_moof",
	"-f", "mp4", "pipe:1",
}

// ServeTranscode spawns ffmpeg against absPath and streams its stdout to
// the response as video/mp4, with no Accept-Ranges (spec §4.5). The
// child process is killed when the request context is cancelled, i.e.
// when the response connection closes — mirrors the teacher's
// StopSession kill-then-wait pattern.
func ServeTranscode(w http.ResponseWriter, r *http.Request, ffmpegPath, absPath string) error {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	args := append([]string{"-i", absPath}, transcodeArgs...)
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	metrics.StreamRequestsTotal.WithLabelValues("transcode").Inc()

	n, copyErr := io.Copy(w, stdout)
	metrics.StreamBytesServed.WithLabelValues("transcode").Add(float64(n))

	cancel()
	if err := cmd.Wait(); err != nil {
		slog.Debug("transcode process exited", "path", absPath, "error", err)
	}
	return copyErr
}
