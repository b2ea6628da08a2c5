package wsfanout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sethdford/fleetctl/internal/eventbus"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, hub *Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		hub.Serve(context.Background(), conn, r.RemoteAddr)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestUnauthenticatedConnectionReceivesNoEvents(t *testing.T) {
	bus := eventbus.New(16, nil, nil)
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour
	hub := New(bus, nil, cfg, nil, nil)

	srv, wsURL := newTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForConnectionCount(t, hub, 1)
	bus.Publish(eventbus.WorkerSpawned, "", map[string]any{"handle": "w1"})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no message to be delivered to an unauthenticated connection")
	}
}

func TestAuthenticatedConnectionReceivesBroadcastEvent(t *testing.T) {
	bus := eventbus.New(16, nil, nil)
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour
	hub := New(bus, nil, cfg, nil, nil)

	srv, wsURL := newTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(clientMessage{Type: "auth", Token: "anything"}); err != nil {
		t.Fatalf("auth: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	bus.Publish(eventbus.WorkerSpawned, "", map[string]any{"handle": "w1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev eventbus.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("expected broadcast event, got error: %v", err)
	}
	if ev.Tag != eventbus.WorkerSpawned {
		t.Fatalf("expected worker.spawned, got %s", ev.Tag)
	}
}

func TestSwarmScopedEventOnlyReachesSubscribedConnection(t *testing.T) {
	bus := eventbus.New(16, nil, nil)
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour
	hub := New(bus, nil, cfg, nil, nil)

	srv, wsURL := newTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.WriteJSON(clientMessage{Type: "auth", Token: "anything"})
	time.Sleep(30 * time.Millisecond)

	bus.Publish(eventbus.BlackboardPosted, "swarm-a", map[string]any{"msg": "hi"})
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no delivery before subscribing to swarm-a")
	}

	_ = conn.WriteJSON(clientMessage{Type: "subscribe", SwarmID: "swarm-a"})
	time.Sleep(30 * time.Millisecond)

	bus.Publish(eventbus.BlackboardPosted, "swarm-a", map[string]any{"msg": "hi again"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev eventbus.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("expected delivery after subscribing, got error: %v", err)
	}
	if ev.SwarmID != "swarm-a" {
		t.Fatalf("expected swarm-a event, got %s", ev.SwarmID)
	}
}

func waitForConnectionCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connections, have %d", n, hub.ConnectionCount())
}
