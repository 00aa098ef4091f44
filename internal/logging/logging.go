// Package logging sets up the process-wide slog logger and a thin HTTP
// request-logging middleware, in the same terse style the teacher logs
// deck-state transitions with (main.go: slog.NewTextHandler + a -debug
// flag flipping the level).
package logging

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Setup installs a text-handler slog.Logger as the process default and
// returns it. debug flips the level to slog.LevelDebug the same way the
// teacher's -debug flag does.
func Setup(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware logs one line per request with method, path, remote address,
// status, and duration — the same fields the teacher's deck logging
// throttles on, minus the throttle (HTTP requests are already bursty
// enough that per-request logging is informative rather than noisy).
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remoteAddr", r.RemoteAddr,
			"status", rec.status,
			"durationMs", time.Since(start).Milliseconds(),
		)
	})
}
