// Package httpapi is the thin HTTP shell over the catalog (C1), session
// store (C3/C4), streaming engine (C5), DeoVR heartbeat (C6), and the VR
// adapters (C7) — modeled on the teacher's internal/handlers package: one
// struct holding every collaborator, one method per route, wired with
// Go 1.22+ method+path ServeMux patterns in router.go.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/jota2rz/mediaviewer/internal/config"
	"github.com/jota2rz/mediaviewer/internal/deovr"
	"github.com/jota2rz/mediaviewer/internal/models"
	"github.com/jota2rz/mediaviewer/internal/scanner"
	"github.com/jota2rz/mediaviewer/internal/store"
	"github.com/jota2rz/mediaviewer/internal/streaming"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
	"github.com/jota2rz/mediaviewer/internal/vr"
)

// Server bundles every collaborator a route needs. It has no state of its
// own beyond what it's handed — all mutation happens inside the
// collaborators (catalog, session store, scanner).
type Server struct {
	Config   config.Config
	Catalog  *store.Catalog
	State    *syncstate.State
	Hub      *syncstate.Hub
	Scanner  *scanner.Scanner
	Heartbeat *deovr.Inferrer

	DeoVR      *vr.DeoVRHandlers
	HereSphere *vr.HereSphereHandlers

	upgrader websocket.Upgrader
}

// New wires a Server from already-constructed collaborators. It installs
// sc.OnProgress so every scan progress update is also broadcast over the
// websocket hub as a "scan:progress" message, supplementing the plain
// GET /scan/progress poll endpoint.
func New(cfg config.Config, cat *store.Catalog, state *syncstate.State, hub *syncstate.Hub, sc *scanner.Scanner, hb *deovr.Inferrer) *Server {
	sc.OnProgress = func(p scanner.Progress) {
		hub.Broadcast(map[string]any{
			"type":       "scan:progress",
			"isScanning": p.IsScanning,
			"scanned":    p.Scanned,
			"message":    p.Message,
		}, nil)
	}
	return &Server{
		Config:    cfg,
		Catalog:   cat,
		State:     state,
		Hub:       hub,
		Scanner:   sc,
		Heartbeat: hb,
		DeoVR:     &vr.DeoVRHandlers{Catalog: cat, State: state},
		HereSphere: &vr.HereSphereHandlers{Catalog: cat, State: state},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealth handles GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleScan handles POST /scan.
func (s *Server) HandleScan(w http.ResponseWriter, r *http.Request) {
	if s.Scanner.Progress().IsScanning {
		writeError(w, http.StatusConflict, "scan already in progress")
		return
	}

	go func() {
		if err := s.Scanner.Rescan(context.Background()); err != nil && !errors.Is(err, scanner.ErrScanInProgress) {
			slog.Warn("background scan failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

// HandleScanProgress handles GET /scan/progress.
func (s *Server) HandleScanProgress(w http.ResponseWriter, r *http.Request) {
	p := s.Scanner.Progress()
	writeJSON(w, http.StatusOK, map[string]any{
		"isScanning": p.IsScanning,
		"scanned":    p.Scanned,
		"message":    p.Message,
	})
}

// HandleCacheClear handles POST /cache/clear.
func (s *Server) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.Config.ThumbCacheDir != "" {
		if err := os.RemoveAll(s.Config.ThumbCacheDir); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear cache")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// HandleGetSync handles GET /sync?sessionId=….
func (s *Server) HandleGetSync(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	writeJSON(w, http.StatusOK, s.State.GetSession(sessionID))
}

type syncPutBody struct {
	SessionID string  `json:"sessionId"`
	ClientID  string  `json:"clientId"`
	MediaID   *string `json:"mediaId"`
	TimeMs    int64   `json:"timeMs"`
	Paused    bool    `json:"paused"`
	Fps       float64 `json:"fps"`
	Frame     int64   `json:"frame"`
}

// HandlePutSync handles PUT /sync.
func (s *Server) HandlePutSync(w http.ResponseWriter, r *http.Request) {
	var body syncPutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	st, err := s.State.UpsertSession(body.SessionID, syncstate.Update{
		MediaID:      body.MediaID,
		TimeMs:       body.TimeMs,
		Paused:       body.Paused,
		Fps:          body.Fps,
		Frame:        body.Frame,
		FromClientID: body.ClientID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.Hub != nil {
		s.broadcastStateValue(st)
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleMediaSearch handles GET /media.
func (s *Server) HandleMediaSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := store.SearchParams{
		Filters: store.Filters{
			Query: q.Get("q"),
		},
		Sort:      store.SortField(q.Get("sort")),
		Ascending: q.Get("order") == "asc",
		Page:      atoiDefault(q.Get("page"), 1),
		PageSize:  atoiDefault(q.Get("pageSize"), 20),
	}
	if v := q.Get("mediaType"); v != "" {
		params.Filters.MediaType = models.MediaType(v)
	}
	if v, ok := parseBool(q.Get("hasFunscript")); ok {
		params.Filters.HasFunscript = &v
	}
	if v, ok := parseBool(q.Get("isVr")); ok {
		params.Filters.IsVR = &v
	}

	res, err := s.Catalog.Search(params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// HandleMediaStream handles GET|HEAD /media/:id/stream.
func (s *Server) HandleMediaStream(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.Catalog.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	absPath := s.absPath(item.RelPath)
	info, err := os.Stat(absPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if r.URL.Query().Get("transcode") == "h264" && item.MediaType == models.MediaVideo {
		if err := streaming.ServeTranscode(w, r, s.Config.FFMpegPath, absPath); err != nil {
			slog.Warn("transcode stream failed", "id", id, "error", err)
		}
		return
	}

	var hook *streaming.VRHook
	if streaming.IsDeoVRUserAgent(r) && s.Heartbeat != nil {
		sessionID := r.URL.Query().Get("sessionId")
		clientID := clientIP(r)
		hook = &streaming.VRHook{
			OnStart: func() func() { return s.Heartbeat.OnStreamRequest(sessionID, clientID, id) },
			OnData:  func() { s.Heartbeat.OnData(sessionID, clientID) },
		}
	}

	ct := streaming.ContentType(item.Ext, func() string {
		f, err := os.Open(absPath)
		if err != nil {
			return ""
		}
		defer f.Close()
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		if n == 0 {
			return ""
		}
		return http.DetectContentType(buf[:n])
	})
	if err := streaming.ServeFile(w, r, absPath, info.Size(), ct, hook); err != nil {
		slog.Warn("stream failed", "id", id, "error", err)
	}
}

func clientIP(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-For"); h != "" {
		return strings.TrimSpace(strings.Split(h, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

// HandleMediaThumb handles GET /media/:id/thumb.
func (s *Server) HandleMediaThumb(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.Catalog.Get(id)
	if err != nil {
		http.Redirect(w, r, vr.PlaceholderThumbURL(vr.BaseURL(r)), http.StatusFound)
		return
	}
	absPath := s.absPath(item.RelPath)

	thumbPath, err := thumbnailFor(r.Context(), s.Config.FFMpegPath, s.Config.ThumbCacheDir, absPath, item.ModifiedMs)
	if err != nil {
		http.Redirect(w, r, vr.PlaceholderThumbURL(vr.BaseURL(r)), http.StatusFound)
		return
	}
	http.ServeFile(w, r, thumbPath)
}

// HandleMediaFunscript handles GET /media/:id/funscript.
func (s *Server) HandleMediaFunscript(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.Catalog.Get(id)
	if err != nil || !item.HasFunscript {
		http.NotFound(w, r)
		return
	}
	absPath := s.absPath(item.RelPath)
	stem := strings.TrimSuffix(absPath, "."+strings.TrimPrefix(item.Ext, "."))
	http.ServeFile(w, r, stem+".funscript")
}

type playbackBody struct {
	ClientID string  `json:"clientId"`
	MediaID  string  `json:"mediaId"`
	TimeMs   int64   `json:"timeMs"`
	Fps      float64 `json:"fps"`
	Frame    int64   `json:"frame"`
}

// HandlePutPlayback handles PUT /playback.
func (s *Server) HandlePutPlayback(w http.ResponseWriter, r *http.Request) {
	var body playbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.ClientID == "" || body.MediaID == "" {
		writeError(w, http.StatusBadRequest, "clientId and mediaId required")
		return
	}
	fps := body.Fps
	if fps <= 0 {
		fps = 30
	}
	s.State.SetResume(body.ClientID, body.MediaID, models.PerClientPlayback{
		TimeMs: body.TimeMs,
		Fps:    fps,
		Frame:  body.Frame,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleGetPlayback handles GET /playback.
func (s *Server) HandleGetPlayback(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	mediaID := r.URL.Query().Get("mediaId")
	p, ok := s.State.GetResume(clientID, mediaID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "playback": p})
}

// HandleMediaFileinfo handles GET /media/:id/fileinfo.
func (s *Server) HandleMediaFileinfo(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.Catalog.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleMediaProbe handles GET /media/:id/probe (on-demand re-probe metadata).
func (s *Server) HandleMediaProbe(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.Catalog.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"width":      item.Width,
		"height":     item.Height,
		"durationMs": item.DurationMs,
		"isVr":       item.IsVR,
		"vrFov":      item.VRFov,
		"vrStereo":   item.VRStereo,
	})
}

func (s *Server) absPath(relPath string) string {
	return s.Config.MediaRoot + string(os.PathSeparator) + strings.ReplaceAll(relPath, "/", string(os.PathSeparator))
}
