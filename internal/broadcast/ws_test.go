package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

func startTestServer(t *testing.T) (*Router, *Server, string) {
	t.Helper()

	router := NewRouter()
	server := NewServer(router, ServerConfig{SendBuffer: 8})
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return router, server, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	var m Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return m
}

func join(t *testing.T, conn *websocket.Conn, frame ClientFrame) Message {
	t.Helper()

	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	return readMessage(t, conn)
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebSocketJoinAndReceive(t *testing.T) {
	router, _, url := startTestServer(t)
	conn := dial(t, url)

	joined := join(t, conn, ClientFrame{Type: FrameJoinRoute, RouteID: "12A"})
	if joined.Event != EventJoined || joined.Channel != "route_12A" {
		t.Fatalf("unexpected join reply: %+v", joined)
	}

	router.Publish(updateEvent("B-9", "24X"))
	router.Publish(updateEvent("B-1", "12A"))

	m := readMessage(t, conn)
	if m.Event != EventVehicleUpdate || m.Channel != "route_12A" {
		t.Fatalf("unexpected message: %+v", m)
	}
	data, _ := m.Data.(map[string]any)
	if data["busId"] != "B-1" || data["routeId"] != "12A" {
		t.Errorf("unexpected payload: %v", data)
	}
	location, _ := data["location"].(map[string]any)
	if location["lat"] != 41.38 || location["lng"] != 2.17 {
		t.Errorf("unexpected location: %v", location)
	}
	for _, key := range []string{"passengers", "delay", "timestamp"} {
		if _, ok := data[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
}

func TestWebSocketUnknownJoin(t *testing.T) {
	router, _, url := startTestServer(t)
	conn := dial(t, url)

	join(t, conn, ClientFrame{Type: FrameJoinAll})

	reply := join(t, conn, ClientFrame{Type: "join.everything"})
	if reply.Event != EventError {
		t.Fatalf("expected error frame, got %+v", reply)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if m := readMessage(t, conn); m.Event != EventError {
		t.Fatalf("expected error frame for malformed input, got %+v", m)
	}

	// Still subscribed to all_buses
	if stats := router.Stats(); stats[ChannelAllVehicles] != 1 {
		t.Errorf("Stats = %v", stats)
	}
	router.Publish(updateEvent("B-1", "R1"))
	if m := readMessage(t, conn); m.Channel != ChannelAllVehicles {
		t.Errorf("unexpected message after failed join: %+v", m)
	}
}

func TestWebSocketDisconnectStopsDelivery(t *testing.T) {
	router, server, url := startTestServer(t)

	stay := dial(t, url)
	leave := dial(t, url)
	join(t, stay, ClientFrame{Type: FrameJoinAll})
	join(t, leave, ClientFrame{Type: FrameJoinAll})
	join(t, leave, ClientFrame{Type: FrameJoinAdmin})

	leave.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	leave.Close()

	waitFor(t, "disconnect cleanup", func() bool {
		return router.Subscribers() == 1 && server.Connections() == 1
	})

	for i := 0; i < 3; i++ {
		if delivered := router.Publish(updateEvent("B-1", "R1")); delivered != 1 {
			t.Errorf("Publish delivered %d, expected 1 after disconnect", delivered)
		}
	}
	for i := 0; i < 3; i++ {
		readMessage(t, stay)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no allow list", nil, "http://evil.example", true},
		{"wildcard", []string{"*"}, "http://evil.example", true},
		{"allowed origin", []string{"http://localhost:5173"}, "http://localhost:5173", true},
		{"rejected origin", []string{"http://localhost:5173"}, "http://evil.example", false},
		{"no origin header", []string{"http://localhost:5173"}, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := originChecker(tc.allowed)(r); got != tc.want {
				t.Errorf("originChecker(%v)(%q) = %v, expected %v", tc.allowed, tc.origin, got, tc.want)
			}
		})
	}
}

func TestClientDeliverAfterClose(t *testing.T) {
	c := &client{id: "c", send: make(chan []byte, 1)}

	if err := c.Deliver([]byte("one")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	// Buffer of one is now full
	if err := c.Deliver([]byte("two")); err != ErrSlowClient {
		t.Fatalf("expected ErrSlowClient, got %v", err)
	}
	if err := c.Deliver([]byte("three")); err != ErrClientClosed {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestDroppedClientCannotRejoin(t *testing.T) {
	router := NewRouter()
	server := NewServer(router, ServerConfig{SendBuffer: 1})
	c := &client{id: "slow", server: server, send: make(chan []byte, 1)}

	if _, ok := router.Join(c, AllSelector()); !ok {
		t.Fatal("join failed")
	}
	_ = c.Deliver([]byte("fills the buffer"))

	// Second publish overflows the buffer and drops the client
	if delivered := router.Publish(models.UpdateEvent{VehicleID: "B-1", RouteID: "R1"}); delivered != 0 {
		t.Fatalf("expected no deliveries, got %d", delivered)
	}
	if router.Subscribers() != 0 {
		t.Fatalf("expected slow client to be dropped, %d subscribers remain", router.Subscribers())
	}

	// A join frame still queued in the read pump arrives afterwards
	c.handleFrame([]byte(`{"type":"join.route","routeId":"R1"}`))

	if got := router.Channels(c); len(got) != 0 {
		t.Errorf("closed client rejoined %v", got)
	}
	if router.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", router.Subscribers())
	}
}
