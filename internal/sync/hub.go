package sync

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jota2rz/mediaviewer/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Conn wraps one live WebSocket connection. It satisfies SocketHandle so
// the State can track it without importing gorilla/websocket itself.
// clientId is mutable (guarded by idMu) because spec §4.4's sync:hello
// message can rekey a live socket without dropping the connection.
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	idMu     sync.Mutex
	clientID string

	closeOnce sync.Once
}

// ClientID implements SocketHandle.
func (c *Conn) ClientID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.clientID
}

func (c *Conn) setClientID(id string) {
	c.idMu.Lock()
	c.clientID = id
	c.idMu.Unlock()
}

// Hub owns the actor loop (register/unregister/broadcast) the way the
// teacher's internal/sse.Hub does, but fans messages out over
// gorilla/websocket connections instead of SSE byte streams. A broadcast
// goes to every connected socket; it is not filtered by session.
type Hub struct {
	state *State

	register   chan *Conn
	unregister chan *Conn
	broadcast  chan sessionMessage
	done       chan struct{}

	mu    sync.RWMutex
	conns map[*Conn]bool
}

type sessionMessage struct {
	sessionID string
	payload   []byte
	exclude   *Conn
}

// NewHub creates a Hub bound to the given session State.
func NewHub(state *State) *Hub {
	return &Hub{
		state:      state,
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan sessionMessage, 64),
		done:       make(chan struct{}),
		conns:      make(map[*Conn]bool),
	}
}

// Run starts the hub's event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.conns[c] = true
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(h.Count()))
			slog.Info("ws client connected", "clientId", c.ClientID(), "total", h.Count())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				close(c.send)
			}
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(h.Count()))
			slog.Info("ws client disconnected", "clientId", c.ClientID(), "total", h.Count())

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.conns {
				if c == msg.exclude {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					slog.Warn("ws client buffer full, dropping message", "clientId", c.ClientID())
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for c := range h.conns {
				close(c.send)
				delete(h.conns, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close shuts the hub down.
func (h *Hub) Close() {
	close(h.done)
}

// Count returns the number of connected sockets (not unique clients).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast encodes v as JSON and fans it out to every connected socket
// except the optional excluded connection (the one an update came from,
// so its author doesn't echo its own change back to itself).
func (h *Hub) Broadcast(v any, exclude *Conn) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("ws broadcast marshal failed", "error", err)
		return
	}
	select {
	case h.broadcast <- sessionMessage{payload: data, exclude: exclude}:
	case <-h.done:
	}
}

// SendTo delivers v as JSON to a single connection, non-blocking — used to
// answer a client's "sync:hello" with the current state directly, since a
// registration racing a broadcast can otherwise miss it (see design notes
// on hub snapshot-then-release-then-write broadcast discipline).
func (h *Hub) SendTo(c *Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("ws unicast marshal failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("ws client buffer full, dropping unicast", "clientId", c.ClientID())
	}
}

// SendToClient delivers v as JSON to every live socket registered under
// clientID — a client may hold more than one open connection. Used for the
// targeted-seek unicast path (spec §4.4: "toClientId set" branch).
func (h *Hub) SendToClient(clientID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("ws unicast marshal failed", "error", err)
		return
	}
	for _, handle := range h.state.SocketsFor(clientID) {
		c, ok := handle.(*Conn)
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			slog.Warn("ws client buffer full, dropping unicast", "clientId", clientID)
		}
	}
}

// Rekey moves c's registration from its current clientId to newClientID,
// carrying over presence metadata (spec §4.4 sync:hello: "rekeys the
// socket if clientId changes"; spec §3: "rekeying is supported when the
// same socket sends a different clientId"). A no-op when newClientID is
// empty or unchanged.
func (h *Hub) Rekey(c *Conn, newClientID string) {
	old := c.ClientID()
	if newClientID == "" || newClientID == old {
		return
	}
	h.state.Rekey(c, old, newClientID)
	c.setClientID(newClientID)
}

// broadcastPresence fans out the default session's state and the current
// client list, used when a socket disconnects and drops the last presence
// for its clientId (spec §4.4: "remove presence and broadcast").
func (h *Hub) broadcastPresence() {
	h.Broadcast(map[string]any{
		"type":    "sync:state",
		"state":   h.state.GetSession(DefaultSessionID),
		"clients": h.state.Presences(),
	}, nil)
}

// Adopt registers a new raw *websocket.Conn under clientID and starts its
// read/write pumps. It blocks until the connection closes. Sends a hello
// greeting with the server time immediately after registering, per spec
// §4.4's connect contract.
func (h *Hub) Adopt(ws *websocket.Conn, clientID string, onMessage func(c *Conn, data []byte)) {
	c := &Conn{hub: h, ws: ws, clientID: clientID, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		ws.Close()
		return
	}
	n := h.state.AttachSocket(clientID, c)
	slog.Debug("socket attached", "clientId", clientID, "sockets", n)

	h.SendTo(c, map[string]any{"type": "hello", "serverTimeMs": time.Now().UnixMilli()})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.readPump(onMessage)
	}()
	wg.Wait()

	finalClientID := c.ClientID()
	if remaining := h.state.DetachSocket(finalClientID, c); remaining == 0 {
		h.state.DropPresence(finalClientID)
		h.broadcastPresence()
	}
}

func (c *Conn) readPump(onMessage func(c *Conn, data []byte)) {
	defer c.unregister()

	c.ws.SetReadLimit(1 << 20)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("ws read error", "clientId", c.ClientID(), "error", err)
			}
			return
		}
		if onMessage != nil {
			onMessage(c, data)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) unregister() {
	c.closeOnce.Do(func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.ws.Close()
	})
}
