package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jota2rz/mediaviewer/internal/config"
	"github.com/jota2rz/mediaviewer/internal/deovr"
	"github.com/jota2rz/mediaviewer/internal/httpapi"
	"github.com/jota2rz/mediaviewer/internal/logging"
	"github.com/jota2rz/mediaviewer/internal/scanner"
	"github.com/jota2rz/mediaviewer/internal/store"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
)

func main() {
	debug := os.Getenv("MV_DEBUG") == "1"
	logging.Setup(debug)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	catalog := store.NewCatalog(db)

	state := syncstate.New()
	hub := syncstate.NewHub(state)
	go hub.Run()

	sc := scanner.New(cfg.MediaRoot, cfg.FFProbePath, catalog)
	heartbeat := deovr.New(state, hub)
	defer heartbeat.Close()

	srv := httpapi.New(cfg, catalog, state, hub, sc, heartbeat)
	// The web UI is an external collaborator (spec §1) — no static assets
	// are bundled here, so the catch-all file server is left unregistered.
	mux := srv.NewRouter("")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	httpServer := &http.Server{
		Addr:         ":" + portString(cfg.Port),
		Handler:      logging.Middleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr, "mediaRoot", cfg.MediaRoot)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	go func() {
		slog.Info("initial library scan starting")
		if err := sc.Rescan(watchCtx); err != nil {
			slog.Warn("initial scan failed", "error", err)
		} else {
			slog.Info("initial library scan complete")
		}
		go sc.WatchFsnotify(watchCtx, 5*time.Second)
	}()

	<-done
	slog.Info("shutting down...")

	watchCancel()
	heartbeat.Close()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

func portString(p int) string {
	if p <= 0 {
		return "3000"
	}
	return strconv.Itoa(p)
}
