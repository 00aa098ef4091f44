package sync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testHub spins up an httptest server upgrading every request to a
// websocket handled by hub.Adopt, the same way httpapi.HandleWebSocket
// does in production.
func testHub(t *testing.T, hub *Hub, onMessage func(c *Conn, data []byte)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatal(err)
		}
		clientID := r.URL.Query().Get("clientId")
		hub.Adopt(ws, clientID, onMessage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws?clientId=" + clientID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	if err := ws.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestAdoptSendsHelloOnConnect(t *testing.T) {
	state := New()
	hub := NewHub(state)
	go hub.Run()
	defer hub.Close()

	srv := testHub(t, hub, nil)
	ws := dial(t, srv, "c1")

	hello := readJSON(t, ws)
	if hello["type"] != "hello" {
		t.Fatalf("expected hello greeting, got %+v", hello)
	}
	if _, ok := hello["serverTimeMs"]; !ok {
		t.Fatalf("expected serverTimeMs in hello, got %+v", hello)
	}
}

func TestBroadcastIncludesSender(t *testing.T) {
	state := New()
	hub := NewHub(state)
	go hub.Run()
	defer hub.Close()

	srv := testHub(t, hub, nil)
	ws := dial(t, srv, "c1")
	readJSON(t, ws) // discard hello

	hub.Broadcast(map[string]any{"type": "sync:state", "state": state.GetSession(DefaultSessionID)}, nil)

	msg := readJSON(t, ws)
	if msg["type"] != "sync:state" {
		t.Fatalf("expected the sender to receive its own broadcast, got %+v", msg)
	}
}

func TestSendToClientReachesOnlyThatClientsSockets(t *testing.T) {
	state := New()
	hub := NewHub(state)
	go hub.Run()
	defer hub.Close()

	srv := testHub(t, hub, nil)
	wsA := dial(t, srv, "a")
	wsB := dial(t, srv, "b")
	readJSON(t, wsA)
	readJSON(t, wsB)

	hub.SendToClient("b", map[string]any{"type": "sync:state", "fromClientId": "a"})

	msg := readJSON(t, wsB)
	if msg["fromClientId"] != "a" {
		t.Fatalf("expected unicast payload on b's socket, got %+v", msg)
	}

	wsA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var discard map[string]any
	if err := wsA.ReadJSON(&discard); err == nil {
		t.Fatalf("expected no message delivered to a, got %+v", discard)
	}
}

func TestRekeyMovesLiveSocketToNewClientID(t *testing.T) {
	state := New()
	hub := NewHub(state)
	go hub.Run()
	defer hub.Close()

	var conn *Conn
	srv := testHub(t, hub, func(c *Conn, data []byte) { conn = c })
	ws := dial(t, srv, "old")
	readJSON(t, ws)

	var payload struct {
		ClientID string `json:"clientId"`
	}
	payload.ClientID = "new"
	b, _ := json.Marshal(payload)
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for conn == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatal("onMessage never fired")
	}
	hub.Rekey(conn, "new")

	if conn.ClientID() != "new" {
		t.Fatalf("expected clientId new after rekey, got %s", conn.ClientID())
	}
	if len(state.SocketsFor("old")) != 0 {
		t.Fatal("expected old clientId to have no sockets after rekey")
	}
	if len(state.SocketsFor("new")) != 1 {
		t.Fatal("expected new clientId to have the rekeyed socket")
	}
}
