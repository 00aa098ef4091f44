package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jota2rz/mediaviewer/internal/models"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
)

// NewRouter builds the full route table. The C8 HTTP API is mounted under
// /api (spec §6: "/api/* as in §4.8") since the VR adapters build every
// media URL handed to DeoVR/HereSphere players as base+"/api/media/...".
// VR adapter and API routes are registered before the static file
// catch-all so neither /deovr nor /heresphere can ever be shadowed
// (spec §4.7/§4.8).
func (s *Server) NewRouter(staticDir string) http.Handler {
	mux := http.NewServeMux()
	api := http.NewServeMux()

	api.HandleFunc("GET /health", s.HandleHealth)
	api.Handle("GET /metrics", promhttp.Handler())

	api.HandleFunc("POST /scan", s.HandleScan)
	api.HandleFunc("GET /scan/progress", s.HandleScanProgress)
	api.HandleFunc("POST /cache/clear", s.HandleCacheClear)

	api.HandleFunc("GET /sync", s.HandleGetSync)
	api.HandleFunc("PUT /sync", s.HandlePutSync)

	api.HandleFunc("GET /media", s.HandleMediaSearch)
	api.HandleFunc("GET /media/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		s.HandleMediaStream(w, r, r.PathValue("id"))
	})
	api.HandleFunc("HEAD /media/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		s.HandleMediaStream(w, r, r.PathValue("id"))
	})
	api.HandleFunc("GET /media/{id}/thumb", func(w http.ResponseWriter, r *http.Request) {
		s.HandleMediaThumb(w, r, r.PathValue("id"))
	})
	api.HandleFunc("GET /media/{id}/funscript", func(w http.ResponseWriter, r *http.Request) {
		s.HandleMediaFunscript(w, r, r.PathValue("id"))
	})
	api.HandleFunc("GET /media/{id}/fileinfo", func(w http.ResponseWriter, r *http.Request) {
		s.HandleMediaFileinfo(w, r, r.PathValue("id"))
	})
	api.HandleFunc("GET /media/{id}/probe", func(w http.ResponseWriter, r *http.Request) {
		s.HandleMediaProbe(w, r, r.PathValue("id"))
	})

	api.HandleFunc("PUT /playback", s.HandlePutPlayback)
	api.HandleFunc("GET /playback", s.HandleGetPlayback)

	mux.Handle("GET /ws", http.HandlerFunc(s.HandleWebSocket))
	mux.Handle("/api/", http.StripPrefix("/api", api))

	mux.HandleFunc("GET /deovr", s.DeoVR.Library)
	mux.HandleFunc("POST /deovr", s.DeoVR.Library)
	mux.HandleFunc("GET /deovr/video/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.DeoVR.Video(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /deovr/video/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.DeoVR.Video(w, r, r.PathValue("id"))
	})

	mux.HandleFunc("GET /heresphere", s.HereSphere.Library)
	mux.HandleFunc("POST /heresphere", s.HereSphere.Library)
	mux.HandleFunc("GET /heresphere/video/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.HereSphere.Video(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /heresphere/video/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.HereSphere.Video(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /heresphere/event", s.HereSphere.Event)
	mux.HandleFunc("GET /heresphere/auth", s.HereSphere.Auth)
	mux.HandleFunc("POST /heresphere/auth", s.HereSphere.Auth)
	mux.HandleFunc("GET /heresphere/scan", s.HereSphere.Scan)
	mux.HandleFunc("POST /heresphere/scan", s.HereSphere.Scan)

	if staticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}

	return s.withCORS(mux)
}

// withCORS applies the single static CORS_ORIGIN from config (spec §6) to
// every response. There is no per-route allowlist — one origin for the
// whole API, matching the single-host deployment model.
func (s *Server) withCORS(next http.Handler) http.Handler {
	origin := s.Config.CORSOrigin
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleWebSocket handles GET /ws, the C4 fan-out socket used by the web
// UI and desktop clients. clientId is read from the query string; a fresh
// one is minted if the caller omits it. The connection's clientId can change later over
// the same socket via an inbound sync:hello (see Hub.Rekey).
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.State.UpsertPresence(clientID, models.ClientPresence{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	})

	s.Hub.Adopt(ws, clientID, s.handleSocketMessage)
}

// wsInbound covers every inbound message shape the wire protocol defines
// (spec §4.4): sync:hello, client:status, sync:update (including the
// targeted toClientId seek handshake), and ws:ping.
type wsInbound struct {
	Type       string `json:"type"`
	ClientID   string `json:"clientId"`
	ToClientID string `json:"toClientId"`
	SessionID  string `json:"sessionId"`

	MediaID *string `json:"mediaId"`
	TimeMs  int64   `json:"timeMs"`
	Paused  bool    `json:"paused"`
	Fps     float64 `json:"fps"`
	Frame   int64   `json:"frame"`

	OpenInUI           *bool   `json:"openInUi"`
	SeekToken          *string `json:"seekToken"`
	SeekPhase          *string `json:"seekPhase"`
	SeekWantPlay       *bool   `json:"seekWantPlay"`
	SeekTargetClientID *string `json:"seekTargetClientId"`

	PlayAt            *string `json:"playAt"`
	PlayAtLocalMs     *int64  `json:"playAtLocalMs"`
	CapturedAtLocalMs *int64  `json:"capturedAtLocalMs"`

	UIView *string `json:"uiView"`
}

// handleSocketMessage processes one inbound websocket frame on conn, whose
// current clientId is conn.ClientID() (it may have been rekeyed since the
// connection was accepted).
func (s *Server) handleSocketMessage(conn *syncstate.Conn, data []byte) {
	clientID := conn.ClientID()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Debug("ws message decode failed", "clientId", clientID, "error", err)
		return
	}
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("ws message decode failed", "clientId", clientID, "error", err)
		return
	}

	switch msg.Type {
	case "sync:hello":
		if msg.ClientID != "" {
			s.Hub.Rekey(conn, msg.ClientID)
			clientID = conn.ClientID()
		}
		s.Hub.SendTo(conn, map[string]any{
			"type":    "sync:state",
			"state":   s.State.GetSession(msg.SessionID),
			"clients": s.State.Presences(),
		})

	case "client:status":
		var uiMediaID *string
		if rawMediaID, ok := raw["mediaId"]; ok {
			var v *string
			if err := json.Unmarshal(rawMediaID, &v); err == nil {
				if v == nil {
					empty := ""
					uiMediaID = &empty
				} else {
					uiMediaID = v
				}
			}
		}
		s.State.UpdatePresenceStatus(clientID, msg.UIView, uiMediaID)
		s.broadcastStateValue(s.State.GetSession(msg.SessionID))

	case "sync:update":
		if msg.ToClientID != "" {
			s.Hub.SendToClient(msg.ToClientID, map[string]any{
				"type":               "sync:state",
				"fromClientId":       clientID,
				"openInUi":           msg.OpenInUI,
				"seekToken":          msg.SeekToken,
				"seekPhase":          msg.SeekPhase,
				"seekWantPlay":       msg.SeekWantPlay,
				"seekTargetClientId": msg.SeekTargetClientID,
			})
			return
		}

		st, err := s.State.UpsertSession(msg.SessionID, syncstate.Update{
			MediaID:           msg.MediaID,
			TimeMs:            msg.TimeMs,
			Paused:            msg.Paused,
			Fps:               msg.Fps,
			Frame:             msg.Frame,
			FromClientID:      clientID,
			PlayAt:            msg.PlayAt,
			PlayAtLocalMs:     msg.PlayAtLocalMs,
			CapturedAtLocalMs: msg.CapturedAtLocalMs,
		})
		if err != nil {
			slog.Debug("ws sync:update rejected", "clientId", clientID, "error", err)
			return
		}
		s.broadcastStateValue(st)

	case "ws:ping":
		s.Hub.SendTo(conn, map[string]any{
			"type":             "ws:pong",
			"serverReceivedAt": time.Now().UnixMilli(),
		})

	default:
		slog.Debug("ws message ignored: unknown type", "type", msg.Type)
	}
}

// broadcastStateValue fans out a sync:state frame carrying the session and
// the live client list to every connected socket, including the sender
// (spec §8 scenario 1: an update's author receives its own echo back).
func (s *Server) broadcastStateValue(st models.SessionState) {
	s.Hub.Broadcast(map[string]any{
		"type":    "sync:state",
		"state":   st,
		"clients": s.State.Presences(),
	}, nil)
}
