package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws?clientId=" + clientID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWSJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	if err := ws.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestWebSocketHelloThenSyncUpdateBroadcastsToSender(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.NewRouter(""))
	defer srv.Close()

	ws := dialWS(t, srv, "c1")
	hello := readWSJSON(t, ws)
	if hello["type"] != "hello" {
		t.Fatalf("expected hello on connect, got %+v", hello)
	}

	if err := ws.WriteJSON(map[string]any{"type": "sync:hello", "sessionId": "s1"}); err != nil {
		t.Fatal(err)
	}
	state := readWSJSON(t, ws)
	if state["type"] != "sync:state" {
		t.Fatalf("expected sync:state reply to sync:hello, got %+v", state)
	}
	if _, ok := state["clients"]; !ok {
		t.Fatalf("expected clients list in sync:state, got %+v", state)
	}

	if err := ws.WriteJSON(map[string]any{
		"type": "sync:update", "sessionId": "s1", "mediaId": "m1", "timeMs": 1000, "fps": 30,
	}); err != nil {
		t.Fatal(err)
	}
	update := readWSJSON(t, ws)
	if update["type"] != "sync:state" {
		t.Fatalf("expected sync:state broadcast, got %+v", update)
	}
	session := update["state"].(map[string]any)
	if session["mediaId"] != "m1" {
		t.Fatalf("expected the update's own author to receive its broadcast, got %+v", update)
	}
}

func TestWebSocketTargetedSeekDoesNotMutateSharedState(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.NewRouter(""))
	defer srv.Close()

	wsA := dialWS(t, srv, "a")
	wsB := dialWS(t, srv, "b")
	readWSJSON(t, wsA)
	readWSJSON(t, wsB)

	before := s.State.GetSession("s1")

	if err := wsA.WriteJSON(map[string]any{
		"type": "sync:update", "sessionId": "s1", "toClientId": "b",
		"seekToken": "tok1", "seekPhase": "start",
	}); err != nil {
		t.Fatal(err)
	}

	msg := readWSJSON(t, wsB)
	if msg["type"] != "sync:state" {
		t.Fatalf("expected targeted sync:state, got %+v", msg)
	}
	if msg["fromClientId"] != "a" {
		t.Fatalf("expected fromClientId a, got %+v", msg)
	}
	if msg["seekToken"] != "tok1" {
		t.Fatalf("expected seekToken passthrough, got %+v", msg)
	}

	wsA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var discard map[string]any
	if err := wsA.ReadJSON(&discard); err == nil {
		t.Fatalf("expected no broadcast from a targeted seek, got %+v", discard)
	}

	after := s.State.GetSession("s1")
	if after.UpdatedAt != before.UpdatedAt {
		t.Fatal("expected targeted seek to leave session state untouched")
	}
}

func TestWebSocketClientStatusExplicitNullClearsMediaID(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.NewRouter(""))
	defer srv.Close()

	ws := dialWS(t, srv, "c1")
	readWSJSON(t, ws)

	if err := ws.WriteJSON(map[string]any{"type": "client:status", "mediaId": "m1"}); err != nil {
		t.Fatal(err)
	}
	readWSJSON(t, ws)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"client:status","mediaId":null}`)); err != nil {
		t.Fatal(err)
	}
	readWSJSON(t, ws)

	presences := s.State.Presences()
	if len(presences) != 1 {
		t.Fatalf("expected one presence, got %+v", presences)
	}
	if presences[0].UIMediaID != nil {
		t.Fatalf("expected mediaId cleared by explicit null, got %v", *presences[0].UIMediaID)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.NewRouter(""))
	defer srv.Close()

	ws := dialWS(t, srv, "c1")
	readWSJSON(t, ws)

	if err := ws.WriteJSON(map[string]any{"type": "ws:ping"}); err != nil {
		t.Fatal(err)
	}
	pong := readWSJSON(t, ws)
	if pong["type"] != "ws:pong" {
		t.Fatalf("expected ws:pong, got %+v", pong)
	}
	if _, ok := pong["serverReceivedAt"]; !ok {
		t.Fatalf("expected serverReceivedAt in ws:pong, got %+v", pong)
	}
}
