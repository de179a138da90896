package broadcast

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client -> server frame types
const (
	FrameJoinRoute = "join.route"
	FrameJoinAll   = "join.all"
	FrameJoinAdmin = "join.admin"
)

var (
	// ErrClientClosed is returned when delivering to a disconnected client
	ErrClientClosed = errors.New("client closed")
	// ErrSlowClient is returned when a client's send buffer is full
	ErrSlowClient = errors.New("client send buffer full")
)

// ClientFrame is a join request sent by a client
type ClientFrame struct {
	Type    string `json:"type"`
	RouteID string `json:"routeId,omitempty"`
}

// Selector maps the frame onto a channel selector
func (f ClientFrame) Selector() Selector {
	switch f.Type {
	case FrameJoinRoute:
		return RouteSelector(f.RouteID)
	case FrameJoinAll:
		return AllSelector()
	case FrameJoinAdmin:
		return AdminSelector()
	default:
		return Selector{}
	}
}

// ServerConfig configures the WebSocket endpoint
type ServerConfig struct {
	SendBuffer     int
	AllowedOrigins []string // empty or "*" allows every origin
}

// Server upgrades HTTP requests to WebSocket connections and registers each
// connection with the router as it joins channels
type Server struct {
	router     *Router
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer creates a WebSocket server bound to router
func NewServer(router *Router, cfg ServerConfig) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	s := &Server{
		router:     router,
		sendBuffer: cfg.SendBuffer,
		clients:    make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles GET /ws
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: upgrade error: %v", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, s.sendBuffer),
	}
	s.add(c)

	go c.writePump()
	go c.readPump()
}

// Connections returns the number of open connections
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client. Used on shutdown since hijacked
// connections are not closed by http.Server.Shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.router.Leave(c)
		c.close()
	}
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

// client is one WebSocket connection. All writes to the socket go through
// writePump; Deliver only enqueues.
type client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// ID implements Subscriber
func (c *client) ID() string {
	return c.id
}

// Deliver implements Subscriber. A full buffer closes the client.
func (c *client) Deliver(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.closeLocked()
		return ErrSlowClient
	}
}

func (c *client) close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WS: failed to encode reply: %v", err)
		return
	}
	// A failed reply means the client is going away; readPump cleans up
	_ = c.Deliver(data)
}

func (c *client) readPump() {
	defer func() {
		c.server.router.Leave(c)
		c.close()
		c.server.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WS: client %s read error: %v", c.id, err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *client) handleFrame(data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reply(Message{Event: EventError, Message: "malformed frame"})
		return
	}

	// A client dropped for being slow must not rejoin while its read pump drains
	if c.isClosed() {
		return
	}

	router := c.server.router
	name, ok := router.Join(c, frame.Selector())
	if !ok {
		c.reply(Message{Event: EventError, Message: "unknown channel selector: " + frame.Type})
		return
	}
	if c.isClosed() {
		router.Leave(c)
		return
	}
	c.reply(Message{Event: EventJoined, Channel: name})
}

func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
