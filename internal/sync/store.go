// Package sync holds the in-memory authoritative session state (C3) and
// the WebSocket fan-out hub (C4). Both are modeled on the teacher's
// internal/sse.Hub: a small set of maps guarded by one coarse lock, with
// I/O (socket writes) always happening after the lock is released.
package sync

import (
	"errors"
	"sync"
	"time"

	"github.com/jota2rz/mediaviewer/internal/models"
)

// ErrInvalidMediaID is returned when an update sets an empty-string mediaId.
var ErrInvalidMediaID = errors.New("sync: mediaId must be non-empty or null")

// DefaultSessionID is used when a caller omits sessionId.
const DefaultSessionID = "default"

const defaultFps = 30

// State is the store behind spec §4.3: session state, client presence,
// per-client socket sets, and per-(client,media) resume cursors.
type State struct {
	mu sync.RWMutex

	sessions map[string]*models.SessionState
	presence map[string]*models.ClientPresence
	sockets  map[string]map[SocketHandle]struct{}
	resume   map[resumeKey]*models.PerClientPlayback

	now func() time.Time
}

// SocketHandle is any live transport connection a client attached; the
// hub supplies the concrete type (a *websocket.Conn wrapper). State only
// ever tracks the handle as an opaque key — see Design Notes §9's
// "weak back-reference" guidance.
type SocketHandle interface {
	ClientID() string
}

type resumeKey struct {
	clientID string
	mediaID  string
}

// Update is an inbound request to change a session's playback cursor.
type Update struct {
	SessionID string
	MediaID   *string
	TimeMs    int64
	Paused    bool
	Fps       float64
	Frame     int64

	FromClientID string

	PlayAt            *string
	PlayAtLocalMs     *int64
	CapturedAtLocalMs *int64
}

// New creates an empty State.
func New() *State {
	return &State{
		sessions: make(map[string]*models.SessionState),
		presence: make(map[string]*models.ClientPresence),
		sockets:  make(map[string]map[SocketHandle]struct{}),
		resume:   make(map[resumeKey]*models.PerClientPlayback),
		now:      time.Now,
	}
}

func defaultState(sessionID string) *models.SessionState {
	return &models.SessionState{
		SessionID: sessionID,
		Paused:    true,
		Fps:       defaultFps,
	}
}

// GetSession returns the stored state for a session, or a fresh default
// (paused, timeMs 0, mediaId nil) if none exists yet.
func (s *State) GetSession(sessionID string) models.SessionState {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.sessions[sessionID]; ok {
		return *st
	}
	return *defaultState(sessionID)
}

// UpsertSession validates, clamps, commits, and returns the stored state.
func (s *State) UpsertSession(sessionID string, u Update) (models.SessionState, error) {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	if u.MediaID != nil && *u.MediaID == "" {
		return models.SessionState{}, ErrInvalidMediaID
	}

	timeMs := u.TimeMs
	if timeMs < 0 {
		timeMs = 0
	}
	fps := u.Fps
	if fps < 1 {
		fps = defaultFps
	}
	frame := u.Frame
	if frame < 0 {
		frame = 0
	}

	st := &models.SessionState{
		SessionID:    sessionID,
		MediaID:      u.MediaID,
		TimeMs:       timeMs,
		Paused:       u.Paused,
		Fps:          fps,
		Frame:        frame,
		FromClientID: u.FromClientID,
		UpdatedAt:    s.now().UnixMilli(),

		PlayAt:            u.PlayAt,
		PlayAtLocalMs:     u.PlayAtLocalMs,
		CapturedAtLocalMs: u.CapturedAtLocalMs,
	}
	clearPlayAtIfNeeded(st)

	s.mu.Lock()
	// Monotonic updatedAt per session: never let a racing writer regress it.
	if prev, ok := s.sessions[sessionID]; ok && st.UpdatedAt <= prev.UpdatedAt {
		st.UpdatedAt = prev.UpdatedAt + 1
	}
	s.sessions[sessionID] = st
	out := *st
	s.mu.Unlock()

	return out, nil
}

// clearPlayAtIfNeeded enforces: paused ⇒ no playAt; playing but playAt
// omitted ⇒ no playAt either (SessionState invariant, spec §3/§4.4).
func clearPlayAtIfNeeded(st *models.SessionState) {
	if st.Paused || st.PlayAt == nil {
		st.PlayAt = nil
		st.PlayAtLocalMs = nil
		st.CapturedAtLocalMs = nil
	}
}

// UpsertPresence creates or updates a client's metadata.
func (s *State) UpsertPresence(clientID string, p models.ClientPresence) {
	p.ClientID = clientID
	s.mu.Lock()
	s.presence[clientID] = &p
	s.mu.Unlock()
}

// UpdatePresenceStatus updates only the UI-visible fields of a presence.
func (s *State) UpdatePresenceStatus(clientID string, uiView, uiMediaID *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[clientID]
	if !ok {
		p = &models.ClientPresence{ClientID: clientID}
		s.presence[clientID] = p
	}
	if uiView != nil {
		p.UIView = uiView
	}
	// uiMediaID may be explicitly cleared with a non-nil pointer to "".
	if uiMediaID != nil {
		if *uiMediaID == "" {
			p.UIMediaID = nil
		} else {
			p.UIMediaID = uiMediaID
		}
	}
}

// DropPresence removes a client's presence entirely (last socket closed).
func (s *State) DropPresence(clientID string) {
	s.mu.Lock()
	delete(s.presence, clientID)
	delete(s.sockets, clientID)
	s.mu.Unlock()
}

// Presences returns a snapshot of all current client presences.
func (s *State) Presences() []models.ClientPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ClientPresence, 0, len(s.presence))
	for _, p := range s.presence {
		out = append(out, *p)
	}
	return out
}

// AttachSocket adds a socket to a client's set, returning the number of
// sockets now registered for that client.
func (s *State) AttachSocket(clientID string, h SocketHandle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sockets[clientID]
	if !ok {
		set = make(map[SocketHandle]struct{})
		s.sockets[clientID] = set
	}
	set[h] = struct{}{}
	return len(set)
}

// DetachSocket removes a socket from a client's set, returning the number
// of sockets remaining (0 means the client has no live connection left).
func (s *State) DetachSocket(clientID string, h SocketHandle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sockets[clientID]
	if !ok {
		return 0
	}
	delete(set, h)
	n := len(set)
	if n == 0 {
		delete(s.sockets, clientID)
	}
	return n
}

// Rekey moves a socket's registration and carries over presence metadata
// from oldClientID to newClientID (spec §4.4: a live connection can rekey
// itself by sending sync:hello with a different clientId). If oldClientID
// still has other live sockets after the move, its presence is left alone;
// otherwise presence moves to newClientID too.
func (s *State) Rekey(h SocketHandle, oldClientID, newClientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.sockets[oldClientID]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(s.sockets, oldClientID)
		}
	}
	newSet, ok := s.sockets[newClientID]
	if !ok {
		newSet = make(map[SocketHandle]struct{})
		s.sockets[newClientID] = newSet
	}
	newSet[h] = struct{}{}

	if _, remaining := s.sockets[oldClientID]; !remaining {
		if p, ok := s.presence[oldClientID]; ok {
			delete(s.presence, oldClientID)
			p.ClientID = newClientID
			s.presence[newClientID] = p
		}
	}
	if _, ok := s.presence[newClientID]; !ok {
		s.presence[newClientID] = &models.ClientPresence{ClientID: newClientID}
	}
}

// SocketsFor returns a snapshot of the live sockets for a client. Must be
// read under no external lock — callers snapshot-then-release-then-write,
// matching the teacher's broadcast discipline (see internal/sse.Hub.Run).
func (s *State) SocketsFor(clientID string) []SocketHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sockets[clientID]
	out := make([]SocketHandle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// GetResume returns the per-client resume cursor for (clientID, mediaID).
func (s *State) GetResume(clientID, mediaID string) (models.PerClientPlayback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.resume[resumeKey{clientID, mediaID}]
	if !ok {
		return models.PerClientPlayback{}, false
	}
	return *p, true
}

// SetResume stores a per-client resume cursor.
func (s *State) SetResume(clientID, mediaID string, p models.PerClientPlayback) {
	p.UpdatedAt = s.now().UnixMilli()
	s.mu.Lock()
	s.resume[resumeKey{clientID, mediaID}] = &p
	s.mu.Unlock()
}
