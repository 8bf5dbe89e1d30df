// README: Websocket hub; authenticates once per connection, routes named events and fans out to rooms.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"foodhub/internal/apperr"
	"foodhub/internal/auth"
	"foodhub/internal/infra"
	"foodhub/internal/logger"
	"foodhub/internal/types"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 256
)

const (
	EventConnected = "connected"
	EventError     = "error"
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Session is the per-connection view handed to event handlers.
type Session interface {
	Actor() types.Actor
	Join(room Room)
	Leave(room Room)
	Emit(event string, data any)
}

// Broadcaster is the fire-and-forget fan-out used by services.
type Broadcaster interface {
	EmitToRoom(room Room, event string, data any)
}

type HandlerFunc func(ctx context.Context, s Session, data json.RawMessage) error

type Hub struct {
	verifier infra.TokenVerifier
	log      logger.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	rooms    map[Room]map[*Client]struct{}
	handlers map[string]HandlerFunc
}

func NewHub(verifier infra.TokenVerifier, log logger.Logger) *Hub {
	return &Hub{
		verifier: verifier,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Connections are authenticated by token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[Room]map[*Client]struct{}),
		handlers: make(map[string]HandlerFunc),
	}
}

// On registers the handler for a client event. Later registrations replace earlier ones.
func (h *Hub) On(event string, fn HandlerFunc) {
	h.mu.Lock()
	h.handlers[event] = fn
	h.mu.Unlock()
}

// ServeWS verifies the token before upgrading; a bad or missing token never
// reaches any event handler.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw := tokenFromRequest(r)
	if raw == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	tok, err := h.verifier.VerifyIDToken(r.Context(), raw)
	if err != nil {
		h.log.Warn("ws auth rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	actor := auth.ActorFromToken(tok)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn, actor)
	h.register(c)
	c.Emit(EventConnected, map[string]any{"userId": actor.ID, "role": actor.Role})

	go c.writePump()
	go c.readPump()
}

// Dispatch runs the handler for env on s. Errors and panics are reported back
// to the session as an error event; they never propagate further.
func (h *Hub) Dispatch(ctx context.Context, s Session, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("ws handler panic", "event", env.Event, "user_id", s.Actor().ID, "panic", rec)
			s.Emit(EventError, ErrorPayload{Event: env.Event, Message: "internal error", Status: http.StatusInternalServerError})
		}
	}()

	h.mu.RLock()
	fn, ok := h.handlers[env.Event]
	h.mu.RUnlock()
	if !ok {
		s.Emit(EventError, ErrorPayload{Event: env.Event, Message: "unknown event", Status: http.StatusBadRequest})
		return
	}
	if err := fn(ctx, s, env.Data); err != nil {
		status := apperr.StatusOf(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("ws handler failed", "event", env.Event, "user_id", s.Actor().ID, "error", err)
		}
		s.Emit(EventError, ErrorPayload{Event: env.Event, Message: apperr.MessageOf(err), Status: status})
	}
}

func (h *Hub) EmitToRoom(room Room, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.log.Error("ws encode failed", "event", event, "room", room.String(), "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		c.enqueue(msg)
	}
}

// Members returns the number of live connections in room on this instance.
func (h *Hub) Members(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	c.Join(UserRoom(c.actor.ID))
	h.log.Debug("ws client registered", "client_id", c.id, "user_id", c.actor.ID, "role", c.actor.Role)
}

// unregister releases every room membership held by c.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	for room := range c.rooms {
		h.removeLocked(room, c)
	}
	c.rooms = nil
	h.mu.Unlock()
	h.log.Debug("ws client unregistered", "client_id", c.id, "user_id", c.actor.ID)
}

func (h *Hub) join(c *Client, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.rooms == nil {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(room, c)
	delete(c.rooms, room)
}

func (h *Hub) removeLocked(room Room, c *Client) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data})
}

// Client is one websocket connection.
type Client struct {
	id    string
	hub   *Hub
	conn  *websocket.Conn
	actor types.Actor
	send  chan []byte
	done  chan struct{}
	once  sync.Once

	// rooms is guarded by hub.mu; nil once unregistered.
	rooms map[Room]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, actor types.Actor) *Client {
	return &Client{
		id:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		actor: actor,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[Room]struct{}),
	}
}

func (c *Client) Actor() types.Actor { return c.actor }
func (c *Client) Join(room Room)     { c.hub.join(c, room) }
func (c *Client) Leave(room Room)    { c.hub.leave(c, room) }

func (c *Client) Emit(event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		c.hub.log.Error("ws encode failed", "event", event, "client_id", c.id, "error", err)
		return
	}
	c.enqueue(msg)
}

// enqueue never blocks; a full buffer drops the message for this client only.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.hub.log.Warn("ws send buffer full, dropping message", "client_id", c.id, "user_id", c.actor.ID)
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}

// readPump handles events sequentially, so one connection's events are
// processed in receipt order.
func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("ws read error", "client_id", c.id, "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.Emit(EventError, ErrorPayload{Message: "malformed event", Status: http.StatusBadRequest})
			continue
		}
		c.hub.Dispatch(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
